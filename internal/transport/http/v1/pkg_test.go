package v1

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/bridge/internal/adapter/luahost"
	"github.com/xiaot623/gogo/bridge/internal/config"
	"github.com/xiaot623/gogo/bridge/internal/service"
)

var testScripts = map[string]string{
	"echo": `function run(args, context) return { args = args, context = context } end`,
	"ask":  `function run(args) return { answer = input("continue?", "confirm") } end`,
	"hang": `function run(args) sleep(60000) end`,
	"fail": `function run(args) fail("quota", "over quota") end`,
}

func newTestHandler(t *testing.T, mutate func(cfg *config.Config)) (*Handler, *service.Service) {
	t.Helper()

	dir := t.TempDir()
	for name, body := range testScripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".lua"), []byte(body), 0o644))
	}

	cfg := config.Default()
	cfg.MinTimeout = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	svc := service.New(cfg, luahost.New(dir, nil))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return NewHandler(svc, nil), svc
}

func newJSONContext(e *echo.Echo, method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func newParamContext(e *echo.Echo, method, path, id string) (echo.Context, *httptest.ResponseRecorder) {
	c, rec := newJSONContext(e, method, path, "")
	c.SetParamNames("execution_id")
	c.SetParamValues(id)
	return c, rec
}
