package auth

import "testing"

func TestParseScopesWildcard(t *testing.T) {
	scopes := ParseScopes("*")
	if len(scopes) != 1 || scopes[0].Resource != wildcardScope {
		t.Fatalf("unexpected scopes: %+v", scopes)
	}
	if !AnyAllows(scopes, "topics", "publish", "anything") {
		t.Fatalf("expected wildcard scope to allow everything")
	}
}

func TestParseScopesResourceAction(t *testing.T) {
	scopes := ParseScopes("topics:publish subscriptions:consume")
	if len(scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(scopes))
	}
	if !AnyAllows(scopes, "topics", "publish", "orders") {
		t.Fatalf("expected topics:publish to allow any object")
	}
	if AnyAllows(scopes, "topics", "delete", "orders") {
		t.Fatalf("expected topics:publish to not allow delete")
	}
}

func TestParseScopesObjectScoped(t *testing.T) {
	scopes := ParseScopes("topics:publish:orders")
	if !AnyAllows(scopes, "topics", "publish", "orders") {
		t.Fatalf("expected scope to allow its own object")
	}
	if AnyAllows(scopes, "topics", "publish", "invoices") {
		t.Fatalf("expected scope to deny a different object")
	}
}

func TestParseScopesDeduplicates(t *testing.T) {
	scopes := ParseScopes("topics:read topics:read topics:read")
	if len(scopes) != 1 {
		t.Fatalf("expected duplicates collapsed, got %d", len(scopes))
	}
}

func TestParseScopesSkipsMalformed(t *testing.T) {
	scopes := ParseScopes("topics:read :::garbage topics")
	if len(scopes) != 1 {
		t.Fatalf("expected malformed entries skipped, got %+v", scopes)
	}
}
