package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("POST", "/api/demo/start", "http://localhost/api/demo/start", 201)
	assert.Contains(t, attrs, attribute.String(HTTPMethodKey, "POST"))
	assert.Contains(t, attrs, attribute.Int(HTTPStatusCodeKey, 201))
}

func TestSessionAttributes(t *testing.T) {
	attrs := SessionAttributes("sess-1", "cam-a", "people_count", "segmented")
	assert.Len(t, attrs, 4)
	assert.Contains(t, attrs, attribute.String(SessionSourceKey, "cam-a"))
	assert.Contains(t, attrs, attribute.String(SessionProtocolKey, "segmented"))
}
