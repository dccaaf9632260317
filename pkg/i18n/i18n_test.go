package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"pt-BR,pt;q=0.9", LocalePortuguese},
		{"pt", LocalePortuguese},
		{"en-US,en;q=0.9", LocaleEnglish},
		{"de-DE", DefaultLocale},
		{"", DefaultLocale},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAcceptLanguage(tt.header), "header %q", tt.header)
	}
}

func TestLocalizer_T(t *testing.T) {
	pt := NewLocalizer(LocalePortuguese)
	assert.Contains(t, pt.T("deletion.cancelled"), "cancelada")

	en := NewLocalizer(LocaleEnglish)
	assert.Contains(t, en.T("deletion.cancelled"), "cancelled")

	// Unsupported locale falls back to Portuguese
	fallback := NewLocalizer("fr")
	assert.Equal(t, LocalePortuguese, fallback.GetLocale())
}

func TestLocalizer_Params(t *testing.T) {
	en := NewLocalizer(LocaleEnglish)
	msg := en.T("deletion.requested", map[string]string{"date": "15/03/2026"})
	assert.Contains(t, msg, "15/03/2026")
	assert.NotContains(t, msg, "{date}")
}

func TestLocalizer_UnknownKey(t *testing.T) {
	en := NewLocalizer(LocaleEnglish)
	assert.Equal(t, "does.not.exist", en.T("does.not.exist"))
}

func TestMiddleware(t *testing.T) {
	var got string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetLocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en-US")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, LocaleEnglish, got)
}

func TestTFromContext(t *testing.T) {
	ctx := WithLocale(context.Background(), LocaleEnglish)
	assert.Contains(t, TFromContext(ctx, "deletion.cancelled"), "cancelled")
}
