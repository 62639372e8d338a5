package pluginloader

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compatibility is the outcome of checking a plugin against the host version.
type Compatibility struct {
	Compatible bool
	Reason     string
}

// CheckCompatibility evaluates min/max constraints against the host version.
// A bare version is read as a bound: ">=" for the minimum and "<=" for the
// maximum. Operator expressions (^1.2.0, ~1.2, >=1.0.0 <2.0.0, exact =1.2.3)
// are evaluated as written. Empty constraints always pass.
func CheckCompatibility(hostVersion, minCore, maxCore string) (Compatibility, error) {
	host, err := semver.NewVersion(hostVersion)
	if err != nil {
		return Compatibility{}, fmt.Errorf("invalid host version %q: %w", hostVersion, err)
	}

	for _, bound := range []struct {
		raw string
		op  string
		tag string
	}{
		{minCore, ">=", "minCoreVersion"},
		{maxCore, "<=", "maxCoreVersion"},
	} {
		expr := constraintExpr(bound.raw, bound.op)
		if expr == "" {
			continue
		}
		c, err := semver.NewConstraint(expr)
		if err != nil {
			return Compatibility{Reason: fmt.Sprintf("unparseable %s %q", bound.tag, bound.raw)}, nil
		}
		if !c.Check(host) {
			return Compatibility{Reason: fmt.Sprintf("host %s does not satisfy %s %q", host, bound.tag, bound.raw)}, nil
		}
	}
	return Compatibility{Compatible: true}, nil
}

func constraintExpr(raw, bareOp string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return ""
	}
	if first := raw[0]; first >= '0' && first <= '9' || first == 'v' {
		return bareOp + " " + raw
	}
	return raw
}
