package hostclient

import (
	"context"
	"testing"
)

func TestStaticForestConfig_Forests(t *testing.T) {
	cfg := StaticForestConfig{Hosts: []string{"a", "b"}}
	forests, err := cfg.Forests(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(forests) != 2 {
		t.Fatalf("expected 2 forests, got %d", len(forests))
	}
	if forests[0].Host != "a" || forests[1].Host != "b" {
		t.Fatalf("unexpected forest hosts: %+v", forests)
	}
}

func TestFactory_BuildsClientWithFormattedURL(t *testing.T) {
	factory := Factory("http://%s:9000")
	client := factory("node-a")
	if client.Host() != "node-a" {
		t.Fatalf("expected Host() node-a, got %s", client.Host())
	}
	c, ok := client.(*Client)
	if !ok {
		t.Fatalf("expected Factory to produce a *Client")
	}
	if c.baseURL != "http://node-a:9000" {
		t.Fatalf("expected baseURL http://node-a:9000, got %s", c.baseURL)
	}
}
