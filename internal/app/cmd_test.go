package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"empty defaults to serve", []string{}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"seed users", []string{"seed-users", "users.yaml"}, CommandSeedUsers},
		{"seed startups", []string{"seed-startups", "startups.csv"}, CommandSeedStartups},
		{"clear test data", []string{"clear-test-data"}, CommandClearTestData},
		{"unknown defaults to serve", []string{"unknown"}, CommandServe},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestCommandArg(t *testing.T) {
	args := []string{"seed-users", "users.yaml"}
	if got := commandArg(args, 0); got != "users.yaml" {
		t.Errorf("commandArg(0) = %q, want users.yaml", got)
	}
	if got := commandArg(args, 1); got != "" {
		t.Errorf("commandArg(1) = %q, want empty", got)
	}
}
