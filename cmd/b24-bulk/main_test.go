package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bitrix24/b24phpsdk-sub004/internal/testutil"
	"github.com/tidwall/gjson"
)

func testConfig(portal *testutil.MockPortal) Config {
	return Config{
		WebhookURL: portal.WebhookURL(),
		Timeout:    5 * time.Second,
		LogLevel:   "error",
	}
}

func seed(portal *testutil.MockPortal, n int, stage string) {
	for i := 0; i < n; i++ {
		portal.Store("crm.deal").Add(map[string]any{"TITLE": "deal", "STAGE_ID": stage})
	}
}

func outputLines(t *testing.T, out *bytes.Buffer) []string {
	t.Helper()
	text := strings.TrimSpace(out.String())
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestRun_Export(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()
	seed(portal, 3, "NEW")

	var out bytes.Buffer
	err := run(context.Background(), testConfig(portal), []string{"export", "-method", "crm.deal.list"}, nil, &out)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	lines := outputLines(t, &out)
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), out.String())
	}
	for i, line := range lines {
		if got := gjson.Get(line, "ID").Int(); got != int64(i+1) {
			t.Errorf("line %d: expected ID %d, got %d", i, i+1, got)
		}
	}

	if portal.GetRequestCount() != 3 {
		t.Errorf("Expected 3 requests (2 probes + 1 page), got %d", portal.GetRequestCount())
	}
	if !strings.HasPrefix(portal.LastUserAgent, "b24-bulk/") {
		t.Errorf("Unexpected User-Agent %q", portal.LastUserAgent)
	}
}

func TestRun_ExportFilterAndSelect(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()
	seed(portal, 2, "NEW")
	seed(portal, 2, "WON")

	var out bytes.Buffer
	args := []string{"export", "-method", "crm.deal.list", "-filter", "STAGE_ID=WON", "-select", "TITLE"}
	if err := run(context.Background(), testConfig(portal), args, nil, &out); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	lines := outputLines(t, &out)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if got := gjson.Get(lines[0], "ID").Int(); got != 3 {
		t.Errorf("Expected first ID 3, got %d", got)
	}
	if gjson.Get(lines[0], "STAGE_ID").Exists() {
		t.Errorf("Expected STAGE_ID to be projected away: %s", lines[0])
	}
}

func TestRun_ExportOffset(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()
	seed(portal, 120, "NEW")

	var out bytes.Buffer
	args := []string{"export", "-method", "crm.deal.list", "-offset"}
	if err := run(context.Background(), testConfig(portal), args, nil, &out); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if lines := outputLines(t, &out); len(lines) != 120 {
		t.Errorf("Expected 120 lines, got %d", len(lines))
	}
	if portal.GetRequestCount() != 2 {
		t.Errorf("Expected 2 requests (count + batch), got %d", portal.GetRequestCount())
	}
}

func TestRun_Add(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()

	in := strings.NewReader("{\"TITLE\":\"a\"}\n\n{\"TITLE\":\"b\"}\n")
	var out bytes.Buffer
	if err := run(context.Background(), testConfig(portal), []string{"add", "-method", "crm.deal.add"}, in, &out); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	var results []resultLine
	for _, line := range outputLines(t, &out) {
		var r resultLine
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		results = append(results, r)
	}

	want := []resultLine{{Index: 0, ID: 1, OK: true}, {Index: 1, ID: 2, OK: true}}
	if len(results) != len(want) {
		t.Fatalf("Expected %d results, got %d", len(want), len(results))
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result %d: expected %+v, got %+v", i, want[i], results[i])
		}
	}

	if portal.Store("crm.deal").Len() != 2 {
		t.Errorf("Expected 2 stored deals, got %d", portal.Store("crm.deal").Len())
	}
	if portal.GetRequestCount() != 1 {
		t.Errorf("Expected one batch request, got %d", portal.GetRequestCount())
	}
}

func TestRun_UpdateAndDelete(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()
	seed(portal, 2, "NEW")

	var out bytes.Buffer
	in := strings.NewReader(`{"id":1,"fields":{"TITLE":"renamed"}}` + "\n" + `{"id":99,"fields":{"TITLE":"x"}}`)
	if err := run(context.Background(), testConfig(portal), []string{"update", "-method", "crm.deal.update"}, in, &out); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	lines := outputLines(t, &out)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(lines))
	}
	if !gjson.Get(lines[0], "ok").Bool() {
		t.Errorf("Expected first update to succeed: %s", lines[0])
	}
	if gjson.Get(lines[1], "ok").Bool() || !strings.Contains(gjson.Get(lines[1], "error").String(), "NOT_FOUND") {
		t.Errorf("Expected second update to fail with NOT_FOUND: %s", lines[1])
	}
	if item, _ := portal.Store("crm.deal").Get(1); item["TITLE"] != "renamed" {
		t.Errorf("Expected TITLE to be updated, got %v", item["TITLE"])
	}

	out.Reset()
	if err := run(context.Background(), testConfig(portal), []string{"delete", "-method", "crm.deal.delete"}, strings.NewReader("1\n2\n"), &out); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if lines := outputLines(t, &out); len(lines) != 2 {
		t.Errorf("Expected 2 results, got %d", len(lines))
	}
	if portal.Store("crm.deal").Len() != 0 {
		t.Errorf("Expected all deals to be deleted, %d left", portal.Store("crm.deal").Len())
	}
}

func TestRun_Errors(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()

	tests := []struct {
		name  string
		args  []string
		in    string
		usage bool
	}{
		{name: "no command", args: nil, usage: true},
		{name: "unknown command", args: []string{"merge"}, usage: true},
		{name: "bad flag", args: []string{"export", "-nope"}, usage: true},
		{name: "bad filter", args: []string{"export", "-filter", "novalue"}, usage: true},
		{name: "missing method", args: []string{"export"}},
		{name: "bad json", args: []string{"add", "-method", "crm.deal.add"}, in: "{not json}\n"},
		{name: "bad id", args: []string{"delete", "-method", "crm.deal.delete"}, in: "abc\n"},
		{name: "non-positive id", args: []string{"delete", "-method", "crm.deal.delete"}, in: "0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), testConfig(portal), tt.args, strings.NewReader(tt.in), &out)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if got := errors.Is(err, errUsage); got != tt.usage {
				t.Errorf("errors.Is(err, errUsage) = %v, want %v (err: %v)", got, tt.usage, err)
			}
		})
	}

	if portal.GetRequestCount() != 0 {
		t.Errorf("Expected no requests, got %d", portal.GetRequestCount())
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b24.yaml")
	content := "webhook_url: https://example.bitrix24.com/rest/1/${B24_TEST_TOKEN}/\nlog_level: debug\nmax_retries: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("B24_TEST_TOKEN", "secret")
	t.Setenv("B24_WEBHOOK_URL", "")
	os.Unsetenv("B24_WEBHOOK_URL")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.WebhookURL != "https://example.bitrix24.com/rest/1/secret/" {
		t.Errorf("Unexpected webhook URL %q", cfg.WebhookURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected environment to override log level, got %q", cfg.LogLevel)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("Expected MaxRetries 5, got %d", cfg.MaxRetries)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", cfg.Timeout)
	}
}

func TestLoadConfig_MissingWebhook(t *testing.T) {
	t.Setenv("B24_WEBHOOK_URL", "")
	os.Unsetenv("B24_WEBHOOK_URL")

	if _, err := loadConfig(""); err == nil {
		t.Error("Expected error for missing webhook URL")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("B24_WEBHOOK_URL", "https://example.bitrix24.com/rest/1/x/")

	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestRealMain_ExitCodes(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()
	seed(portal, 2, "NEW")

	tests := []struct {
		name    string
		webhook string
		args    []string
		code    int
		lines   int
		stderr  string
	}{
		{name: "export", webhook: portal.WebhookURL(), args: []string{"export", "-method", "crm.deal.list"}, code: 0, lines: 2},
		{name: "no command", webhook: portal.WebhookURL(), code: 2, stderr: "usage: b24-bulk"},
		{name: "command failure", webhook: portal.WebhookURL(), args: []string{"export"}, code: 1, stderr: "Command failed"},
		{name: "bad global flag", webhook: portal.WebhookURL(), args: []string{"-nope"}, code: 2},
		{name: "missing webhook", args: []string{"export", "-method", "crm.deal.list"}, code: 2, stderr: "invalid config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("B24_WEBHOOK_URL", tt.webhook)
			if tt.webhook == "" {
				os.Unsetenv("B24_WEBHOOK_URL")
			}
			t.Setenv("LOG_LEVEL", "error")

			var out, errOut bytes.Buffer
			code := realMain(tt.args, strings.NewReader(""), &out, &errOut)
			if code != tt.code {
				t.Fatalf("realMain() = %d, want %d (stderr: %s)", code, tt.code, errOut.String())
			}
			if got := len(outputLines(t, &out)); got != tt.lines {
				t.Errorf("Expected %d output lines, got %d", tt.lines, got)
			}
			if !strings.Contains(errOut.String(), tt.stderr) {
				t.Errorf("Expected stderr to contain %q, got %q", tt.stderr, errOut.String())
			}
		})
	}
}

func TestRealMain_ClosesMetricsServerOnFailure(t *testing.T) {
	portal := testutil.NewMockPortal()
	defer portal.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	t.Setenv("B24_WEBHOOK_URL", portal.WebhookURL())
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("METRICS_ADDR", addr)

	var out, errOut bytes.Buffer
	if code := realMain([]string{"export"}, strings.NewReader(""), &out, &errOut); code != 1 {
		t.Fatalf("realMain() = %d, want 1", code)
	}

	// the metrics listener is released once realMain returns
	l, err = net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("metrics address still in use after exit: %v", err)
	}
	l.Close()
}
