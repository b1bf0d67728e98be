package clock

import (
	"testing"
)

func TestNewRejectsUnknownZone(t *testing.T) {
	t.Parallel()
	if _, err := New("Not/AZone"); err == nil {
		t.Fatal("want error for unknown zone")
	}
}

func TestSetSwapsZone(t *testing.T) {
	t.Parallel()
	c, err := New("UTC")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Zone() != "UTC" {
		t.Fatalf("zone = %q", c.Zone())
	}
	if err := c.Set("Asia/Manila"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if c.Zone() != "Asia/Manila" {
		t.Fatalf("zone after set = %q", c.Zone())
	}
	if got := c.Now().Location().String(); got != "Asia/Manila" {
		t.Fatalf("Now location = %q", got)
	}
}

func TestSetInvalidKeepsPrevious(t *testing.T) {
	t.Parallel()
	c, err := New("Asia/Manila")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Set("Mars/Olympus"); err == nil {
		t.Fatal("want error for invalid zone")
	}
	if c.Zone() != "Asia/Manila" {
		t.Fatalf("previous zone lost: %q", c.Zone())
	}
}
