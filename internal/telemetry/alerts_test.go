package telemetry

import (
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const alertsPath = "../../deploy/prometheus/alerts.yml"

// TestAlertsFileValid verifies the Prometheus alerts configuration is valid YAML.
func TestAlertsFileValid(t *testing.T) {
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Fatalf("failed to read alerts file at %s: %v", alertsPath, err)
	}

	var config map[string]interface{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		t.Fatalf("invalid YAML in alerts.yml: %v", err)
	}

	groups, ok := config["groups"]
	if !ok {
		t.Fatal("alerts.yml missing 'groups' key")
	}

	groupsList, ok := groups.([]interface{})
	if !ok || len(groupsList) == 0 {
		t.Error("alerts.yml 'groups' is empty or invalid")
	}
}

// TestCriticalAlertsPresent verifies critical alerts are defined.
func TestCriticalAlertsPresent(t *testing.T) {
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Fatalf("failed to read alerts file at %s: %v", alertsPath, err)
	}

	content := string(data)

	criticalAlerts := []string{
		"HighAPIErrorRate",
		"ProviderHardFailures",
		"BatchDispatchFailures",
		"StoreWriteFailures",
		"DatabaseDown",
	}

	for _, alertName := range criticalAlerts {
		if !strings.Contains(content, alertName) {
			t.Errorf("critical alert %q not found in alerts.yml", alertName)
		}
	}
}

// TestAlertLabels verifies alerts have required labels and annotations.
func TestAlertLabels(t *testing.T) {
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Fatalf("failed to read alerts file at %s: %v", alertsPath, err)
	}

	type Alert struct {
		Alert       string            `yaml:"alert"`
		Expr        string            `yaml:"expr"`
		For         string            `yaml:"for"`
		Labels      map[string]string `yaml:"labels"`
		Annotations map[string]string `yaml:"annotations"`
	}

	type Group struct {
		Name  string  `yaml:"name"`
		Rules []Alert `yaml:"rules"`
	}

	type Config struct {
		Groups []Group `yaml:"groups"`
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		t.Fatalf("failed to parse alerts.yml: %v", err)
	}

	for _, group := range config.Groups {
		for _, alert := range group.Rules {
			if alert.Alert == "" {
				continue
			}

			if _, ok := alert.Labels["severity"]; !ok {
				t.Errorf("alert %q missing 'severity' label", alert.Alert)
			}

			if len(alert.Annotations) == 0 {
				t.Errorf("alert %q missing annotations", alert.Alert)
			}

			if _, ok := alert.Annotations["summary"]; !ok {
				t.Errorf("alert %q missing 'summary' annotation", alert.Alert)
			}
		}
	}
}

// TestMetricsExist verifies metrics referenced by alerts are declared in metrics.go.
func TestMetricsExist(t *testing.T) {
	expectedMetrics := []string{
		"skuld_api_requests_total",
		"skuld_api_request_duration_seconds",
		"skuld_provider_fallbacks_total",
		"skuld_provider_calls_total",
		"skuld_batch_dispatch_failures_total",
		"skuld_store_operations_total",
		"skuld_slots_skipped_total",
		"skuld_database_connections_active",
		"skuld_collaborator_up",
		"skuld_schedule_runs_total",
	}

	data, err := os.ReadFile("metrics.go")
	if err != nil {
		t.Fatalf("failed to read metrics.go: %v", err)
	}

	content := string(data)

	for _, metric := range expectedMetrics {
		if !strings.Contains(content, metric) {
			t.Errorf("expected metric %q not found in metrics.go", metric)
		}
	}
}
