package wallet

import "testing"

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{"lowercase", "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", false},
		{"uppercase", "0xD8DA6BF26964AF9D7EED9E03E53415D37AA96045", "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", false},
		{"already checksummed", "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", false},
		{"no prefix", "d8da6bf26964af9d7eed9e03e53415d37aa96045", "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", false},
		{"surrounding space", "  0xd8da6bf26964af9d7eed9e03e53415d37aa96045 ", "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045", false},
		{"bad checksum", "0xD8da6bf26964af9d7eed9e03e53415d37aa96045", "", true},
		{"too short", "0xabc", "", true},
		{"not hex", "0xzzda6bf26964af9d7eed9e03e53415d37aa96045", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeAddress(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.address, got, tt.want)
			}
		})
	}
}

func TestShortAddress(t *testing.T) {
	if got := ShortAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045"); got != "0xd8dA…6045" {
		t.Errorf("ShortAddress() = %q", got)
	}
	if got := ShortAddress("0xabc"); got != "0xabc" {
		t.Errorf("ShortAddress(short) = %q", got)
	}
}
