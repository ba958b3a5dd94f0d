package admin

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsAlreadyExists(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "duplicate database sqlstate",
			err:  &pgconn.PgError{Code: "42P04", Message: "database \"x\" already exists"},
			want: true,
		},
		{
			name: "unique violation sqlstate",
			err:  &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"},
			want: true,
		},
		{
			name: "unrelated sqlstate",
			err:  &pgconn.PgError{Code: "42601", Message: "syntax error"},
			want: false,
		},
		{
			name: "wrapped sqlstate still detected",
			err:  fmt.Errorf("admin: create database %q: %w", "x", &pgconn.PgError{Code: "42P04", Message: "already exists"}),
			want: true,
		},
		{
			name: "plain error with matching message",
			err:  errors.New(`database "x" already exists`),
			want: true,
		},
		{
			name: "plain error with unrelated message",
			err:  errors.New("connection refused"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAlreadyExists(tt.err); got != tt.want {
				t.Errorf("isAlreadyExists(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
