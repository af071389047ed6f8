package utils

import "testing"

func TestContentKeyIsStable(t *testing.T) {
	a := map[string]interface{}{"f_department": "ANTIOQUIA", "f_year": 2024}
	b := map[string]interface{}{"f_year": 2024, "f_department": "ANTIOQUIA"}

	ka, err := ContentKey("SELECT 1", a)
	if err != nil {
		t.Fatal(err)
	}
	kb, err := ContentKey("SELECT 1", b)
	if err != nil {
		t.Fatal(err)
	}
	if ka != kb {
		t.Errorf("keys differ for equal params: %s vs %s", ka, kb)
	}

	kc, _ := ContentKey("SELECT 2", a)
	if kc == ka {
		t.Errorf("different SQL must not share a key")
	}
}
