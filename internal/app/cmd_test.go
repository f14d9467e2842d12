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
		{"create-admin", []string{"create-admin", "--email", "a@example.com"}, CommandCreateAdmin},
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

func TestParseMigrateArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    MigrateArgs
		wantErr bool
	}{
		{"default up", nil, MigrateArgs{Direction: MigrateUp}, false},
		{"up", []string{"up"}, MigrateArgs{Direction: MigrateUp}, false},
		{"down defaults to one step", []string{"down"}, MigrateArgs{Direction: MigrateDown, Steps: 1}, false},
		{"down N", []string{"down", "3"}, MigrateArgs{Direction: MigrateDown, Steps: 3}, false},
		{"version", []string{"VERSION"}, MigrateArgs{Direction: MigrateVersion}, false},
		{"down zero", []string{"down", "0"}, MigrateArgs{}, true},
		{"down not a number", []string{"down", "all"}, MigrateArgs{}, true},
		{"unknown", []string{"sideways"}, MigrateArgs{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMigrateArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMigrateArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMigrateArgs(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCreateAdminArgs_Success(t *testing.T) {
	in, err := ParseCreateAdminArgs([]string{
		"--email", "admin@example.com",
		"--password=Str0ng-Password",
		"--display-name", "Admin",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if in.Email != "admin@example.com" {
		t.Errorf("Email = %q, want %q", in.Email, "admin@example.com")
	}
	if in.Password != "Str0ng-Password" {
		t.Errorf("Password = %q, want %q", in.Password, "Str0ng-Password")
	}
	if in.DisplayName != "Admin" {
		t.Errorf("DisplayName = %q, want %q", in.DisplayName, "Admin")
	}
	if !in.IsAdmin {
		t.Error("IsAdmin should be true")
	}
}

func TestParseCreateAdminArgs_MissingRequired(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no flags", nil},
		{"no password", []string{"--email", "admin@example.com"}},
		{"no email", []string{"--password", "Str0ng-Password"}},
		{"unknown flag", []string{"--email", "a@example.com", "--password", "p", "--role", "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCreateAdminArgs(tt.args); err == nil {
				t.Errorf("ParseCreateAdminArgs(%v) should return an error", tt.args)
			}
		})
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"password redacted", "postgres://user:secret@db:5432/jobhub?sslmode=disable", "postgres://user:xxxxx@db:5432/jobhub?sslmode=disable"},
		{"no password", "postgres://db:5432/jobhub", "postgres://db:5432/jobhub"},
		{"not a url", "host=db user=jobhub", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskDatabaseURL(tt.raw); got != tt.want {
				t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
