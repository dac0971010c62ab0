package textmatch

import "testing"

func TestSetMatch(t *testing.T) {
	set := NewSet("Gepäck", "EU-261", "", "  ")

	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "umlaut case insensitive", text: "Dein GEPÄCK ist weg?", want: true},
		{name: "hyphenated needle", text: "Laut eu-261 steht dir etwas zu", want: true},
		{name: "no match", text: "Boarding beginnt gleich", want: false},
		{name: "empty text", text: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := set.Match(tt.text); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}

	if set.Len() != 2 {
		t.Errorf("expected blank needles to be dropped, got %d needles", set.Len())
	}
}

func TestFoldKeepsNonBreakingSpace(t *testing.T) {
	plain := NewSet("3 stunden")
	nbsp := NewSet("3\u00a0stunden")

	text := "Ab 3\u00a0Stunden Verspätung"
	if plain.Match(text) {
		t.Error("ASCII-space needle should not match a non-breaking space")
	}
	if !nbsp.Match(text) {
		t.Error("non-breaking-space needle should match")
	}
}

func TestMatchNumeric(t *testing.T) {
	set := NewSet("über 3", "3h", "600 €")

	tests := []struct {
		text string
		want bool
	}{
		{text: "Mehr als über 3 Stunden", want: true},
		{text: "Sei über 30 Minuten vorher da", want: false},
		{text: "Ankunft 3h später", want: true},
		{text: "Check-in schließt 23h vorher", want: false},
		{text: "Bis zu 600 € pro Person", want: true},
		{text: "Preis 1600 € gesamt", want: false},
		{text: "über 3", want: true},
	}

	for _, tt := range tests {
		if got := set.MatchNumeric(tt.text); got != tt.want {
			t.Errorf("MatchNumeric(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMatchWord(t *testing.T) {
	set := NewSet("du", "ich")

	if !set.MatchWord("Hast du dein Ticket?") {
		t.Error("expected whole word match for 'du'")
	}
	if set.MatchWord("Durchsage am Gate") {
		t.Error("'du' must not match inside 'Durchsage'")
	}
}

func TestHasPrefixWord(t *testing.T) {
	set := NewSet("wenn", "falls")

	tests := []struct {
		text string
		want bool
	}{
		{text: "Wenn dein Flug ausfällt, frag nach.", want: true},
		{text: "  \"Falls\" das Gate wechselt", want: true},
		{text: "Wennschon, dennschon", want: false},
		{text: "Der Flug fällt aus, wenn es stürmt", want: false},
	}

	for _, tt := range tests {
		if got := set.HasPrefixWord(tt.text); got != tt.want {
			t.Errorf("HasPrefixWord(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCountMatching(t *testing.T) {
	set := NewSet("gate")
	texts := []string{"Gate-Wechsel", "Koffer", "Am GATE warten", ""}

	if got := set.CountMatching(texts); got != 2 {
		t.Errorf("expected 2 matching texts, got %d", got)
	}
}

func TestSentences(t *testing.T) {
	got := Sentences("Tipp: Wenn es regnet. Dann warte!\nOk")
	want := []string{"Tipp", "Wenn es regnet", "Dann warte", "Ok"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
