// Package client talks to a running watchreload daemon over its REST API.
package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

type TargetInfo struct {
	Module    string         `json:"module"`
	SubModule string         `json:"sub_module,omitempty"`
	Exports   map[string]any `json:"exports,omitempty"`
}

type ModuleInfo struct {
	Path      string       `json:"path"`
	Listeners int          `json:"listeners"`
	Targets   []TargetInfo `json:"targets"`
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// FetchModules lists the watched paths and their reload targets.
func FetchModules(client *http.Client, baseURL, token string) ([]ModuleInfo, error) {
	client = ensureClient(client)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}

	request, err := http.NewRequest(http.MethodGet, baseURL+"/api/modules", nil)
	if err != nil {
		return nil, fmt.Errorf("build modules request failed: %w", err)
	}
	addToken(request, token)

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("modules request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: response.StatusCode, Message: readErrorMessage(response)}
	}

	var modules []ModuleInfo
	if err := sonic.ConfigDefault.NewDecoder(response.Body).Decode(&modules); err != nil {
		return nil, fmt.Errorf("decode modules response: %w", err)
	}
	return modules, nil
}

// Reload asks the daemon to reload a configured module now.
func Reload(client *http.Client, baseURL, token, specifier string) error {
	client = ensureClient(client)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return errors.New("base URL is required")
	}
	specifier = strings.TrimSpace(specifier)
	if specifier == "" {
		return errors.New("module is required")
	}

	target := baseURL + "/api/modules/reload?module=" + url.QueryEscape(specifier)
	request, err := http.NewRequest(http.MethodPost, target, nil)
	if err != nil {
		return fmt.Errorf("build reload request failed: %w", err)
	}
	addToken(request, token)

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("reload request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: response.StatusCode, Message: readErrorMessage(response)}
	}
	return nil
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func addToken(request *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	request.Header.Set("Authorization", "Bearer "+token)
}

func readErrorMessage(response *http.Response) string {
	if response == nil {
		return "request failed"
	}
	body, _ := io.ReadAll(response.Body)
	text := strings.TrimSpace(string(body))
	if text == "" {
		return response.Status
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil {
		if strings.TrimSpace(payload.Error) != "" {
			return payload.Error
		}
	}
	return text
}
