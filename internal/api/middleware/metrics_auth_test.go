package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-event-board/internal/config"
)

func serveMetrics(t *testing.T, cfg *config.MetricsConfig, authorization string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := MetricsBasicAuth(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "metrics")
	})
	return rec, handler(c)
}

func basic(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestMetricsBasicAuth_NoCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.MetricsConfig
	}{
		{name: "設定なし", cfg: nil},
		{name: "両方なし", cfg: &config.MetricsConfig{}},
		{name: "ユーザーのみ", cfg: &config.MetricsConfig{User: "user"}},
		{name: "パスワードのみ", cfg: &config.MetricsConfig{Password: "pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := serveMetrics(t, tt.cfg, "")

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "metrics", rec.Body.String())
		})
	}
}

func TestMetricsBasicAuth_Enabled(t *testing.T) {
	cfg := &config.MetricsConfig{User: "testuser", Password: "testpass"}

	t.Run("正しい認証情報は通す", func(t *testing.T) {
		rec, err := serveMetrics(t, cfg, basic("testuser", "testpass"))

		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("誤った認証情報は401", func(t *testing.T) {
		_, err := serveMetrics(t, cfg, basic("wronguser", "wrongpass"))

		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
	})

	t.Run("ヘッダーなしは401", func(t *testing.T) {
		_, err := serveMetrics(t, cfg, "")

		var he *echo.HTTPError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, http.StatusUnauthorized, he.Code)
	})
}
