// Package announce turns BODACC records into chat embeds.
//
// Formatting is total: every lookup into the record degrades to a placeholder
// instead of failing, whatever shape the upstream data takes.
package announce

import (
	"strings"
	"time"

	"bodaccwatch/internal/bodacc"
	kit "bodaccwatch/internal/transport"
)

const (
	Placeholder = "—"
	DefaultURL  = "https://www.bodacc.fr/"
)

// Format builds the embed for rec, timestamped at.
func Format(rec bodacc.Record, at time.Time) kit.Embed {
	personne := Personne(rec)

	denom := firstNonEmpty(rec.String("commercant"), str(personne, "denomination"), str(personne, "nom"), Placeholder)
	famille := firstNonEmpty(rec.String("familleavis_lib"), "Annonce")

	ville := firstNonEmpty(rec.String("ville"), str(personne, "adresseSiegeSocial", "ville"), Placeholder)
	cp := firstNonEmpty(rec.String("cp"), str(personne, "adresseSiegeSocial", "codePostal"), Placeholder)

	e := kit.Embed{
		Title:       denom + " — " + famille,
		URL:         firstNonEmpty(rec.String("url_complete"), DefaultURL),
		Description: Description(rec),
		Timestamp:   at.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Fields: []kit.EmbedField{
			{Name: "Type / Publication", Value: firstNonEmpty(rec.String("publicationavis_facette"), rec.String("typeavis_lib"), rec.String("typeavis"), Placeholder), Inline: true},
			{Name: "Date parution", Value: firstNonEmpty(rec.String("dateparution"), Placeholder), Inline: true},
			{Name: "Ville / CP", Value: ville + " " + cp, Inline: true},
			{Name: "Tribunal", Value: firstNonEmpty(rec.String("tribunal"), Placeholder), Inline: true},
			{Name: "Registre / RCS", Value: firstNonEmpty(rec.String("registre"), str(personne, "numeroImmatriculation", "numeroIdentification"), Placeholder), Inline: true},
			{Name: "Département", Value: firstNonEmpty(rec.String("departement_nom_officiel"), Placeholder) + " (" + firstNonEmpty(rec.String("numerodepartement"), Placeholder) + ")", Inline: true},
		},
		Footer: &kit.EmbedFooter{Text: "BODACC • dataset: " + rec.DatasetID},
	}
	return e
}

// FormatAll formats records in order with a shared timestamp.
func FormatAll(recs []bodacc.Record, at time.Time) []kit.Embed {
	out := make([]kit.Embed, 0, len(recs))
	for _, r := range recs {
		out = append(out, Format(r, at))
	}
	return out
}

// Description renders the modification and filing summaries, or "" when
// neither is present.
func Description(rec bodacc.Record) string {
	var b strings.Builder
	if d := str(rec.Doc("modificationsgenerales"), "descriptif"); d != "" {
		b.WriteString("**Modif. :** " + d + "\n")
	}
	dep := rec.Doc("depot")
	if typ := str(dep, "typeDepot"); typ != "" {
		b.WriteString("**Dépôt :** " + typ)
		if dc := str(dep, "dateCloture"); dc != "" {
			b.WriteString(" (" + dc + ")")
		}
		b.WriteString("\n")
		if d := str(dep, "descriptif"); d != "" {
			b.WriteString(d + "\n")
		}
	}
	return b.String()
}

// Personne returns listepersonnes.personne. When the API serves a list of
// persons the first object is used.
func Personne(rec bodacc.Record) map[string]any {
	lp := rec.Doc("listepersonnes")
	if lp == nil {
		return nil
	}
	switch p := lp["personne"].(type) {
	case map[string]any:
		return p
	case []any:
		for _, item := range p {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// str walks nested objects and returns the leaf as text, "" on any mismatch.
func str(doc map[string]any, path ...string) string {
	var cur any = doc
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok || m == nil {
			return ""
		}
		cur = m[k]
	}
	return bodacc.AsString(cur)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
