package clientid

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded for single", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"forwarded for chain", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"forwarded for wins", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "1.1.1.1"},
		{"no headers", nil, Unknown},
		{"empty first value", map[string]string{"X-Forwarded-For": " ,10.0.0.1"}, Unknown},
		{"not validated", map[string]string{"X-Real-IP": "not-an-ip"}, "not-an-ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, FromHeaders(h.Get))
		})
	}
}

func TestHash(t *testing.T) {
	a := Hash("203.0.113.7")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Hash("203.0.113.7"))
	assert.NotEqual(t, a, Hash("203.0.113.8"))
}
