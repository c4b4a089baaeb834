package test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/irsalhamdi/marketplace-api/core/user"
)

func TestUserList(t *testing.T) {
	env, err := NewTestEnv(t, "user_list_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	// Listing accounts is an admin-only operation.
	env.Login(t, env.Buyer.Email)
	w, err := env.Client().Get(env.URL + "/users")
	if err != nil {
		t.Fatal(err)
	}
	w.Body.Close()
	if w.StatusCode != http.StatusForbidden {
		t.Fatalf("listing users as buyer: status code %s, want 403", w.Status)
	}
	env.Logout(t)

	env.Login(t, env.Admin.Email)
	w, err = env.Client().Get(env.URL + "/users")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if w.StatusCode != http.StatusOK {
		t.Fatalf("listing users as admin: status code %s", w.Status)
	}

	var users []user.User
	if err := json.NewDecoder(w.Body).Decode(&users); err != nil {
		t.Fatalf("cannot unmarshal users: %v", err)
	}

	seeded := map[string]bool{
		env.Buyer.Email:   false,
		env.Seller.Email:  false,
		env.Courier.Email: false,
		env.Admin.Email:   false,
	}
	for _, u := range users {
		if _, ok := seeded[u.Email]; ok {
			seeded[u.Email] = true
		}
	}
	for email, found := range seeded {
		if !found {
			t.Fatalf("account %s missing from the listing", email)
		}
	}
}
