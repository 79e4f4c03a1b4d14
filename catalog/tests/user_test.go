package tests

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCreateUserAndLogin(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		userId := fmt.Sprintf("user%d", i)
		email := fmt.Sprintf("user%d@mail.com", i)
		password := fmt.Sprintf("user%d_password", i)

		info, err := admin.createUser(userId, "User "+userId, email, password)
		if err != nil {
			t.Fatal(err)
		}
		if info.Id != userId || info.Email != email || info.Status != "READY" {
			t.Fatalf("invalid user info %v", info)
		}

		_, err = admin.createUser(userId, "User "+userId, email, password)
		if statusOf(err) != http.StatusConflict {
			t.Fatalf("duplicate user creation should conflict, got %v", err)
		}

		client := env.newClient()

		err = client.login(userId, "wrong_password")
		if statusOf(err) != http.StatusUnauthorized {
			t.Fatalf("login should fail with wrong password, got %v", err)
		}

		err = client.login("nobody"+userId, password)
		if statusOf(err) != http.StatusNotFound {
			t.Fatalf("login should fail for unknown user, got %v", err)
		}
		if !strings.Contains(envelopeError(err), "no user found for given id") {
			t.Fatalf("unexpected login error: %v", err)
		}

		if err := client.login(userId, password); err != nil {
			t.Fatal(err)
		}
		if client.userId != userId {
			t.Fatalf("expected user id %v, got %v", userId, client.userId)
		}
	}
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createUser("xyz", "xyz", "xyz@mail.com", "123")
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("users cannot create users, got %v", err)
	}

	anonymous := env.newClient()
	_, err = anonymous.createUser("xyz", "xyz", "xyz@mail.com", "123")
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("anonymous callers cannot create users, got %v", err)
	}

	c := env.newClient()
	err = c.login("xyz", "123")
	if statusOf(err) != http.StatusNotFound {
		t.Fatalf("no login should have been created: %v", err)
	}

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createUser("xyz", "xyz", "xyz@mail.com", "123"); err != nil {
		t.Fatal(err)
	}
	c = env.newClient()
	if err := c.login("xyz", "123"); err != nil {
		t.Fatal(err)
	}
}

func TestInvalidUserIds(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	invalid := []string{"", "admin", "anonymous", "*", "a@b", "a:b", "a,b", "a!b", "a/b", "a b"}
	for _, userId := range invalid {
		_, err := admin.createUser(userId, "name", userId+"@mail.com", "123")
		if statusOf(err) != http.StatusBadRequest {
			t.Fatalf("user id '%v' should be rejected, got %v", userId, err)
		}
	}

	_, err = admin.createUser("valid_id", "name", "user0@mail.com", "123")
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.createUser("other_id", "name", "user0@mail.com", "123")
	if statusOf(err) != http.StatusConflict {
		t.Fatalf("reused email should conflict, got %v", err)
	}
}

func TestUserInfoVisibility(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user1, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	user2, err := env.newUser("xyz")
	if err != nil {
		t.Fatal(err)
	}

	info, err := user1.userInfo("abc")
	if err != nil {
		t.Fatal(err)
	}
	if info.Id != "abc" || info.Email != "abc@mail.com" {
		t.Fatalf("invalid user info %v", info)
	}

	_, err = user2.userInfo("abc")
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("users cannot view other accounts, got %v", err)
	}

	info, err = admin.userInfo("abc")
	if err != nil {
		t.Fatal(err)
	}
	if info.Id != "abc" {
		t.Fatalf("invalid user info %v", info)
	}

	_, err = admin.userInfo("missing")
	if statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func TestTokenExpiration(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	expiration, err := user.tokenExpiration()
	if err != nil {
		t.Fatal(err)
	}
	if !expiration.After(time.Now()) {
		t.Fatalf("token expiration %v should be in the future", expiration)
	}

	anonymous := env.newClient()
	_, err = anonymous.tokenExpiration()
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

// A bad token is not an error: the request proceeds as the anonymous
// principal and the acl engine decides what it may read.
func TestInvalidTokenFallsBackToAnonymous(t *testing.T) {
	env := setupTestEnv(t)

	owner, err := env.newUser("owner")
	if err != nil {
		t.Fatal(err)
	}
	studyId, err := newStudy(owner, "phase1")
	if err != nil {
		t.Fatal(err)
	}

	garbage := client{api: env.api, authToken: "not-a-jwt"}
	_, err = garbage.studyInfo(fmt.Sprint(studyId))
	if statusOf(err) != http.StatusForbidden {
		t.Fatalf("garbage token should downgrade to anonymous and be denied, got %v", err)
	}

	if _, err := owner.createAcls("studies", fmt.Sprint(studyId), "", []string{"*"}, []string{"VIEW_STUDY"}); err != nil {
		t.Fatal(err)
	}

	info, err := garbage.studyInfo(fmt.Sprint(studyId))
	if err != nil {
		t.Fatal(err)
	}
	if info.Id != studyId {
		t.Fatalf("expected study %d, got %v", studyId, info)
	}
}
