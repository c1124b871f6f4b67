package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	internaldb "mocktest/internal/db"
)

func TestCreateAndGetUser(t *testing.T) {
	ctx := context.Background()
	dbConn, err := internaldb.OpenMemory(ctx, fmt.Sprintf("auth_%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	defer dbConn.Close()
	svc := NewService(dbConn)

	u, err := svc.CreateUser(ctx, CreateUserInput{Name: "  Asha ", Email: " Asha@Example.com "})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Name != "Asha" || u.Email == nil || *u.Email != "asha@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}

	anon, err := svc.CreateUser(ctx, CreateUserInput{Name: "Ben"})
	if err != nil {
		t.Fatalf("create user without email: %v", err)
	}
	if anon.Email != nil {
		t.Fatalf("expected nil email, got %v", *anon.Email)
	}

	if _, err := svc.CreateUser(ctx, CreateUserInput{Name: " "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GetUser(ctx, 999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
