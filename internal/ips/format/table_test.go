package format

import "testing"

func TestTable(t *testing.T) {
	tbl := Table{
		Heading: "Allergies and Intolerances",
		Headers: []string{"Allergen", "Status"},
		Rows: []Row{
			{ID: "a1", Cells: []string{"Penicillin", "active"}},
			{Cells: []string{"Latex"}},
		},
	}
	want := `<h5>Allergies and Intolerances</h5><table class="hapiPropertyTable"><thead><tr><th>Allergen</th><th>Status</th></tr></thead>` +
		`<tbody><tr id="a1"><td>Penicillin</td><td>active</td></tr><tr id=""><td>Latex</td><td></td></tr></tbody></table>`
	assertEqual(t, tbl.String(), want)

	tbl.HeadingTag = "h6"
	tbl.Rows = nil
	assertEqual(t, tbl.String(), `<h6>Allergies and Intolerances</h6><table class="hapiPropertyTable"><thead><tr><th>Allergen</th><th>Status</th></tr></thead><tbody></tbody></table>`)
}

func TestTable_EscapesRowID(t *testing.T) {
	tbl := Table{
		Headers: []string{"Allergen"},
		Rows:    []Row{{ID: "x\" onclick=\"y\nz&", Cells: []string{"Penicillin"}}},
	}
	assertEqual(t, tbl.String(), `<table class="hapiPropertyTable"><thead><tr><th>Allergen</th></tr></thead>`+
		`<tbody><tr id="x&#34; onclick=&#34;y`+"\n"+`z&amp;"><td>Penicillin</td></tr></tbody></table>`)
}
