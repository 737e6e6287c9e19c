package message

import "testing"

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress(`"Doe, Jane" <jane@example.com>`)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a.Personal != "Doe, Jane" || a.Address != "jane@example.com" {
		t.Errorf("got %+v", a)
	}
	if _, err := ParseAddress("not an address"); err == nil {
		t.Error("expected error for invalid address")
	}
}

func TestParseAddressList(t *testing.T) {
	list, err := ParseAddressList("a@example.com, Bob <b@example.com>")
	if err != nil {
		t.Fatalf("ParseAddressList: %v", err)
	}
	if len(list) != 2 || list[1].Personal != "Bob" || list[1].Address != "b@example.com" {
		t.Errorf("got %+v", list)
	}

	empty, err := ParseAddressList("  ")
	if err != nil || empty != nil {
		t.Errorf("empty list = %v, %v", empty, err)
	}
}

func TestAddress_String(t *testing.T) {
	if got := (Address{Address: "a@example.com"}).String(); got != "<a@example.com>" {
		t.Errorf("String = %q", got)
	}
	if (Address{}).String() != "" {
		t.Error("zero address should render empty")
	}
	back, err := ParseAddress(Address{Personal: "Jürgen", Address: "j@example.com"}.String())
	if err != nil || back.Personal != "Jürgen" {
		t.Errorf("round trip = %+v, %v", back, err)
	}
}

func TestFormatAddressList(t *testing.T) {
	got := FormatAddressList([]Address{{Address: "a@example.com"}, {}, {Address: "b@example.com"}})
	if got != "<a@example.com>, <b@example.com>" {
		t.Errorf("FormatAddressList = %q", got)
	}
}
