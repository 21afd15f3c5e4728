package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRenderVerificationHTML(t *testing.T) {
	html, err := renderVerificationHTML("042137")
	require.NoError(t, err)
	assert.Contains(t, html, "042137")
	assert.Contains(t, html, "5 minutes")
}

func TestRenderVerificationHTMLEscapes(t *testing.T) {
	html, err := renderVerificationHTML(`<script>`)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}

func TestConsoleMailer(t *testing.T) {
	m := NewConsole(zap.NewNop())
	assert.NoError(t, m.SendVerificationCode(context.Background(), "a@b.c", "123456"))
}
