package auth

import (
	"errors"
	"testing"
)

func TestNewPageRequest(t *testing.T) {
	req, err := NewPageRequest(2, 0)
	if err != nil {
		t.Fatalf("NewPageRequest: %v", err)
	}
	if req.Size != DefaultPageSize || req.Offset() != 10 || req.Limit() != 10 {
		t.Fatalf("unexpected request %+v offset=%d", req, req.Offset())
	}
	for _, tc := range []struct{ number, size int }{{0, 5}, {-1, 5}, {1, -1}} {
		if _, err := NewPageRequest(tc.number, tc.size); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("NewPageRequest(%d,%d) err=%v", tc.number, tc.size, err)
		}
	}
}

func TestNewPageNavigation(t *testing.T) {
	cases := []struct {
		number, size, total int
		pages               int
		prev, next          *int
	}{
		{number: 1, size: 10, total: 25, pages: 3, prev: nil, next: intp(2)},
		{number: 2, size: 10, total: 25, pages: 3, prev: intp(1), next: intp(3)},
		{number: 3, size: 10, total: 25, pages: 3, prev: intp(2), next: nil},
		{number: 1, size: 10, total: 10, pages: 1, prev: nil, next: nil},
		{number: 5, size: 10, total: 25, pages: 3, prev: nil, next: nil},
	}
	for _, tc := range cases {
		req, err := NewPageRequest(tc.number, tc.size)
		if err != nil {
			t.Fatalf("NewPageRequest: %v", err)
		}
		p := NewPage(req, []int{1}, tc.total)
		if p.TotalPages != tc.pages || p.TotalCount != tc.total {
			t.Fatalf("page %d: pages=%d total=%d", tc.number, p.TotalPages, p.TotalCount)
		}
		if !sameInt(p.PrevPage, tc.prev) || !sameInt(p.NextPage, tc.next) {
			t.Fatalf("page %d: prev=%v next=%v", tc.number, deref(p.PrevPage), deref(p.NextPage))
		}
	}
}

func TestClassifyDevice(t *testing.T) {
	cases := map[string]Device{
		"Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0":                                                                  DeviceWeb,
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1": DeviceMobile,
		"Mozilla/5.0 (SMART-TV; Linux; Tizen 6.0) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/4.0 Chrome/76.0 TV Safari/537.36":         DeviceSmartTV,
		"": DeviceWeb,
	}
	for ua, want := range cases {
		if got := ClassifyDevice(ua); got != want {
			t.Fatalf("ClassifyDevice(%q)=%s, want %s", ua, got, want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("a@b.com"); err != nil {
		t.Fatalf("valid email rejected: %v", err)
	}
	for _, bad := range []string{"", "plain", "a@", "@b.com"} {
		if err := ValidateEmail(bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("ValidateEmail(%q)=%v", bad, err)
		}
	}
	if err := ValidateCallbackURL("https://example.com/cb"); err != nil {
		t.Fatalf("valid url rejected: %v", err)
	}
	if err := ValidateCallbackURL("/relative"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("relative url accepted: %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Secret123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "Secret123"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "WrongPass"); !errors.Is(err, ErrUserPasswordInvalid) {
		t.Fatalf("expected ErrUserPasswordInvalid, got %v", err)
	}
	if _, err := HashPassword(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty password accepted: %v", err)
	}
	a, _ := RandomPassword()
	b, _ := RandomPassword()
	if a == "" || a == b {
		t.Fatalf("random passwords must differ: %q %q", a, b)
	}
}

func intp(v int) *int { return &v }

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
