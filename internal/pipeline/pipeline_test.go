package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genpipe/internal/infra"
	"genpipe/internal/infra/credentials"
)

func TestTokensPrefersSignedJWT(t *testing.T) {
	cfg := &infra.Config{UpstreamToken: "static", UpstreamJWTSecret: "k", UpstreamTokenSubject: "svc", UpstreamTokenTTL: time.Minute}
	tok, err := Tokens(cfg).Token(context.Background())
	require.NoError(t, err)
	claims, err := credentials.Verify("k", tok)
	require.NoError(t, err)
	assert.Equal(t, "svc", claims.Subject)

	cfg.UpstreamJWTSecret = ""
	tok, err = Tokens(cfg).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", tok)
}

func TestNew(t *testing.T) {
	t.Setenv("GP_TEST_TOKEN_STABILITY", "sk-1")
	cfg, err := infra.ParseConfig(map[string]string{
		"UPSTREAM_BASE_URL":     "http://upstream.test/",
		"PROVIDER_TOKEN_PREFIX": "GP_TEST_TOKEN_",
	})
	require.NoError(t, err)

	p, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer p.Orchestrator.Close()

	assert.Equal(t, "http://upstream.test", p.Client.BaseURL())
	assert.Equal(t, "sk-1", p.Credentials.Token("stability"))
	assert.Equal(t, 3, p.Policies.For("submit").MaxAttempts)
}

func TestNewRejectsBadPolicyFile(t *testing.T) {
	cfg, err := infra.ParseConfig(map[string]string{
		"UPSTREAM_BASE_URL": "http://upstream.test",
		"RETRY_POLICY_FILE": t.TempDir() + "/missing.yaml",
	})
	require.NoError(t, err)
	_, err = New(cfg, nil, nil)
	assert.Error(t, err)
}
