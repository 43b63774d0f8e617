package service

import "testing"

func TestResolve(t *testing.T) {
	t.Parallel()

	auth := Named(UserAuth)
	conn := Named(Connection)
	r := NewRouter(auth, conn)

	tests := []struct {
		name        string
		service     string
		hasIdentity bool
		want        Service
	}{
		{"auth without identity", UserAuth, false, auth},
		{"auth with identity", UserAuth, true, auth},
		{"connection without identity", Connection, false, nil},
		{"connection with identity", Connection, true, conn},
		{"unknown with identity", "unknown-service", true, nil},
		{"unknown without identity", "unknown-service", false, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := r.Resolve(tc.service, tc.hasIdentity); got != tc.want {
				t.Fatalf("Resolve(%q, %v) = %v, want %v", tc.service, tc.hasIdentity, got, tc.want)
			}
		})
	}
}

type tagged struct{ name, tag string }

func (s *tagged) Name() string { return s.name }

func TestExtraServices(t *testing.T) {
	t.Parallel()

	auth := &tagged{name: UserAuth, tag: "real"}
	conn := &tagged{name: Connection, tag: "real"}
	impostor := &tagged{name: UserAuth, tag: "impostor"}
	r := NewRouter(auth, conn, Named("sftp@example.com"), impostor, nil)

	if got := r.Resolve("sftp@example.com", true); got == nil || got.Name() != "sftp@example.com" {
		t.Fatalf("extra service not routed: %v", got)
	}
	if got := r.Resolve("sftp@example.com", false); got != nil {
		t.Fatalf("extra service reachable before authentication: %v", got)
	}
	if got := r.Resolve(UserAuth, false); got != Service(auth) {
		t.Fatal("extra entry replaced the authentication service")
	}
}
