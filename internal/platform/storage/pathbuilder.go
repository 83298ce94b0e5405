package storage

import (
	"fmt"
	"strings"
	"time"
)

// Object name timestamps follow the legacy export layout consumed downstream.
const exportTimestampLayout = "2006-01-02_15-04-05"

// BatchExportObject composes the object name for a batch export run.
func BatchExportObject(prefix string, at time.Time) (string, error) {
	cleaned, err := validatePrefix(prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/orders_%s.csv", cleaned, at.UTC().Format(exportTimestampLayout)), nil
}

// SingleExportObject composes the object name for a single-order export.
func SingleExportObject(prefix, orderNumber string, at time.Time) (string, error) {
	cleaned, err := validatePrefix(prefix)
	if err != nil {
		return "", err
	}
	number, err := validateSegment("orderNumber", orderNumber)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/order_%s_%s.csv", cleaned, number, at.UTC().Format(exportTimestampLayout)), nil
}

func validatePrefix(value string) (string, error) {
	value = strings.Trim(strings.TrimSpace(value), "/")
	if value == "" {
		return "", fmt.Errorf("storage: export path prefix is required")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: export path prefix contains invalid traversal sequence")
	}
	return value, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
