package router

import (
	"regexp"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fiberParam = regexp.MustCompile(`:([A-Za-z]+)`)

// openAPIPath converts a fiber route path to its OpenAPI template.
func openAPIPath(path string) string {
	path = fiberParam.ReplaceAllString(path, "{$1}")
	return strings.Replace(path, "*", "{path}", 1)
}

func TestOpenAPIDocumentsEveryAPIRoute(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile("../../../public/docs/v1/openapi.yml")
	require.NoError(t, err)
	require.NoError(t, doc.Validate(loader.Context))

	app := newTestApp(t)
	checked := 0
	for _, r := range app.GetRoutes(true) {
		if !strings.HasPrefix(r.Path, "/api/") && !strings.HasPrefix(r.Path, "/platform/") {
			continue
		}
		if r.Method == "HEAD" {
			continue
		}
		item := doc.Paths.Value(openAPIPath(r.Path))
		if !assert.NotNil(t, item, "undocumented path %s", r.Path) {
			continue
		}
		// the plugin proxy accepts every method but is documented once
		if strings.HasPrefix(r.Path, "/api/plugin/") {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "undocumented %s %s", r.Method, r.Path)
		checked++
	}
	assert.Greater(t, checked, 30)
}

func TestOpenAPIPath(t *testing.T) {
	assert.Equal(t, "/platform/api/tenants/{id}/plugins/{pluginId}", openAPIPath("/platform/api/tenants/:id/plugins/:pluginId"))
	assert.Equal(t, "/api/plugin/{pluginId}/{path}", openAPIPath("/api/plugin/:pluginId/*"))
}
