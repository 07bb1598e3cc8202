package device

import (
	"testing"
)

func testRecords() []Record {
	return []Record{
		{Name: "Pendant", Dimmable: true},
		{Name: "kitchen"},
		{Name: "livingroomfans"},
		{Name: "bedroom2", Dimmable: true},
	}
}

func TestNewRegistry_Categories(t *testing.T) {
	r, err := NewRegistry(testRecords(), []string{"LivingRoomFans", "bedroom2"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tests := []struct {
		id   string
		want Category
	}{
		{"pendant", CategoryDimmableLight},
		{"PENDANT", CategoryDimmableLight},
		{"kitchen", CategoryLight},
		{"livingroomfans", CategoryFan},
		// fan membership wins over the dimmable flag
		{"bedroom2", CategoryFan},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			d, ok := r.Lookup(tt.id)
			if !ok {
				t.Fatalf("Lookup(%q) not found", tt.id)
			}
			if d.Category != tt.want {
				t.Errorf("Category = %v, want %v", d.Category, tt.want)
			}
		})
	}

	if r.Known("garage") {
		t.Error("Known(garage) = true, want false")
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
}

func TestNewRegistry_Order(t *testing.T) {
	r, err := NewRegistry(testRecords(), nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	want := []string{"pendant", "kitchen", "livingroomfans", "bedroom2"}
	got := r.Devices()
	if len(got) != len(want) {
		t.Fatalf("Devices() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("Devices()[%d] = %q, want %q", i, got[i].ID, want[i])
		}
	}

	dim := r.Dimmable()
	if len(dim) != 2 || dim[0] != "bedroom2" || dim[1] != "pendant" {
		t.Errorf("Dimmable() = %v, want [bedroom2 pendant]", dim)
	}
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
	}{
		{"empty name", []Record{{Name: "  "}}},
		{"duplicate", []Record{{Name: "hall"}, {Name: "HALL"}}},
		{"wildcard", []Record{{Name: "hall+"}}},
		{"space", []Record{{Name: "front hall"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.records, nil); err == nil {
				t.Error("NewRegistry() expected error, got nil")
			}
		})
	}
}

func TestCategoryComponent(t *testing.T) {
	if CategoryFan.Component() != "fan" {
		t.Errorf("fan component = %q", CategoryFan.Component())
	}
	if CategoryDimmableLight.Component() != "light" || CategoryLight.Component() != "light" {
		t.Error("light categories should map to the light component")
	}
}

// Room tokens are split out wherever they occur, so "mainbedroomfan" reads
// "Main Bedroom Fan" rather than "Mainbedroom Fan", and the WIR acronym keeps
// its case. Only the display name depends on this; unique ids use the raw id.
func TestFriendlyName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"pendant", "Pendant"},
		{"bedroom2", "Bedroom 2"},
		{"livingroomfans", "Living Room Fans"},
		{"mainbedroomfan", "Main Bedroom Fan"},
		{"kitchenfans", "Kitchen Fans"},
		{"wirlight", "WIR Light"},
		{"wir", "WIR"},
		{"mainbedroom", "Main Bedroom"},
		{"peepalace", "Peep Palace"},
		{"Porch", "Porch"},
		{"fans", "Fans"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := FriendlyName(tt.id); got != tt.want {
				t.Errorf("FriendlyName(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
