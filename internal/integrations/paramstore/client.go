package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted parameters from AWS SSM.
type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// EnvGetter serves parameters from the environment for local runs. The last
// path segment of a name becomes TRIPC_SECRET_<SEGMENT>, upper-cased with
// dashes turned into underscores.
type EnvGetter struct {
	lookup func(string) (string, bool)
}

func NewEnvGetter() *EnvGetter {
	return &EnvGetter{lookup: os.LookupEnv}
}

func (g *EnvGetter) GetParameter(_ context.Context, name string) (string, error) {
	key := EnvKey(name)
	if key == "" {
		return "", errors.New("paramstore: name is required")
	}
	v, ok := g.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("paramstore: environment variable %s is not set", key)
	}
	return v, nil
}

func EnvKey(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return ""
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return "TRIPC_SECRET_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// tokenPayload is the JSON shape stored in SSM for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// DecodeToken accepts either {"token":"..."} or a bare token string.
func DecodeToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal token payload: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("paramstore: token is empty")
	}
	return raw, nil
}

// Token lazily fetches and caches one API token. Failed fetches are not
// cached, so a transient SSM error is retried on the next call.
type Token struct {
	getter Getter
	name   string

	mu    sync.Mutex
	value string
}

func NewToken(g Getter, name string) (*Token, error) {
	if g == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name must not be empty")
	}
	return &Token{getter: g, name: name}, nil
}

func (t *Token) Value(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.value != "" {
		return t.value, nil
	}
	raw, err := t.getter.GetParameter(ctx, t.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token %s: %w", t.name, err)
	}
	v, err := DecodeToken(raw)
	if err != nil {
		return "", fmt.Errorf("paramstore: token %s: %w", t.name, err)
	}
	t.value = v
	return v, nil
}
