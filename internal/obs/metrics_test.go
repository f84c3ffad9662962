package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/v1/documents":                     "/v1/documents",
		"/v1/documents/doc_01H":             "/v1/documents/:id",
		"/v1/documents/doc_01H/sign":        "/v1/documents/:id/sign",
		"/v1/documents/doc_01H/extra":       "/v1/documents/doc_01H/extra",
		"/v1/documents/doc_01H?fields=a":    "/v1/documents/:id",
		"/v1/verify?hash=0xabc":             "/v1/verify",
		"/v1/members":                       "/v1/members",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
