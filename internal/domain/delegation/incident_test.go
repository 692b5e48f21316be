package delegation

import "testing"

func TestExtractIncidentID(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "explicit label",
			text: "Send 2 engines. Incident ID: BEACH_FIRE_007",
			want: "BEACH_FIRE_007",
		},
		{
			name: "lowercase label with equals",
			text: "incident_id=RUSHIKONDA_FIRE_MEDICAL_001 needs triage",
			want: "RUSHIKONDA_FIRE_MEDICAL_001",
		},
		{
			name: "bare all-caps identifier",
			text: "Gas leak reported for GAJUWAKA_GAS_LEAK_002 near the market",
			want: "GAJUWAKA_GAS_LEAK_002",
		},
		{
			name: "label wins over later caps token",
			text: "Incident ID: ALPHA_ONE_1 also mentions BETA_TWO_2_X",
			want: "ALPHA_ONE_1",
		},
		{
			name: "single underscore segment is not enough",
			text: "Contact FIRE_CHIEF about the outage",
			want: "",
		},
		{
			name: "no identifier",
			text: "Send help to the harbour, three people injured",
			want: "",
		},
		{
			name: "empty text",
			text: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractIncidentID(tt.text); got != tt.want {
				t.Errorf("ExtractIncidentID(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
