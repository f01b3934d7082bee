package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Credential modes reported by CredentialSource.Mode
const (
	CredentialModeAPIKey = "api-key"
	CredentialModeFile   = "credentials-file"
	CredentialModeJSON   = "credentials-json"
	CredentialModeNone   = "none"
)

var credentialScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/generative-language",
}

// CredentialSource holds exactly one way of authenticating to Gemini: an API key,
// the path of a service account file, or the service account JSON itself.
// It is resolved once at startup.
type CredentialSource struct {
	APIKey string
	File   string
	JSON   string
}

// Mode returns which credential is set, or "" if none is
func (c CredentialSource) Mode() string {
	switch {
	case c.APIKey != "":
		return CredentialModeAPIKey
	case c.File != "":
		return CredentialModeFile
	case c.JSON != "":
		return CredentialModeJSON
	}
	return ""
}

// ClientOptions validates the source and returns the matching client options
func (c CredentialSource) ClientOptions() ([]option.ClientOption, error) {
	set := 0
	for _, v := range []string{c.APIKey, c.File, c.JSON} {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		return nil, errors.New("gemini credentials are required: set an API key, a credentials file or credentials JSON")
	}
	if set > 1 {
		return nil, errors.New("only one of API key, credentials file and credentials JSON may be set")
	}

	switch c.Mode() {
	case CredentialModeAPIKey:
		return []option.ClientOption{option.WithAPIKey(c.APIKey)}, nil
	case CredentialModeFile:
		if _, err := os.Stat(c.File); err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		return []option.ClientOption{
			option.WithCredentialsFile(c.File),
			option.WithScopes(credentialScopes...),
		}, nil
	default:
		if !json.Valid([]byte(c.JSON)) {
			return nil, errors.New("credentials JSON is not valid JSON")
		}
		return []option.ClientOption{
			option.WithCredentialsJSON([]byte(c.JSON)),
			option.WithScopes(credentialScopes...),
		}, nil
	}
}

// Identity describes who the configured credentials authenticate as. API keys
// carry no identity beyond the mode.
type Identity struct {
	Mode        string `json:"mode"`
	ProjectID   string `json:"project_id,omitempty"`
	ClientEmail string `json:"client_email,omitempty"`
}

type serviceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
}

// Identity reads the project and service account email from the credentials
func (c CredentialSource) Identity() (Identity, error) {
	var data []byte
	switch c.Mode() {
	case "":
		return Identity{Mode: CredentialModeNone}, nil
	case CredentialModeAPIKey:
		return Identity{Mode: CredentialModeAPIKey}, nil
	case CredentialModeFile:
		var err error
		data, err = os.ReadFile(c.File)
		if err != nil {
			return Identity{}, fmt.Errorf("reading credentials file: %w", err)
		}
	default:
		data = []byte(c.JSON)
	}

	var sa serviceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return Identity{}, fmt.Errorf("decoding credentials: %w", err)
	}
	return Identity{Mode: c.Mode(), ProjectID: sa.ProjectID, ClientEmail: sa.ClientEmail}, nil
}

// NewGeminiClient creates an authenticated Gemini client. It is safe for concurrent
// use and should be created once and shared.
func NewGeminiClient(ctx context.Context, creds CredentialSource, opts ...option.ClientOption) (*genai.Client, error) {
	credOpts, err := creds.ClientOptions()
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, append(credOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return client, nil
}
