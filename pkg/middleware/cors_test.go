package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	allowedOrigins := []string{"http://localhost:5173", "http://ui.example.com"}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	corsHandler := CORS(allowedOrigins)(handler)

	tests := []struct {
		name           string
		origin         string
		method         string
		expectedOrigin string
	}{
		{
			name:           "ui dev server",
			origin:         "http://localhost:5173",
			method:         http.MethodGet,
			expectedOrigin: "http://localhost:5173",
		},
		{
			name:           "packaged ui origin",
			origin:         "http://ui.example.com",
			method:         http.MethodPost,
			expectedOrigin: "http://ui.example.com",
		},
		{
			name:   "unknown origin",
			origin: "http://evil.com",
			method: http.MethodGet,
		},
		{
			name:           "preflight",
			origin:         "http://localhost:5173",
			method:         http.MethodOptions,
			expectedOrigin: "http://localhost:5173",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/session", nil)
			req.Header.Set("Origin", tt.origin)

			rec := httptest.NewRecorder()
			corsHandler.ServeHTTP(rec, req)

			acao := rec.Header().Get("Access-Control-Allow-Origin")
			if acao != tt.expectedOrigin {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.expectedOrigin, acao)
			}
		})
	}
}
