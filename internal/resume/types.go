package resume

import (
	"strconv"
	"strings"

	"cvadapt/internal/jsonx"
)

// Profile is the structured view of a résumé. Field names follow the JSON
// contract the front-end renders.
type Profile struct {
	Nom              string       `json:"nom"`
	Titre            string       `json:"titre"`
	AnneesExperience FlexibleInt  `json:"annees_experience"`
	CompetencesCles  []string     `json:"competences_cles"`
	Experiences      []Experience `json:"experiences"`
	Formations       []Formation  `json:"formations"`
	Langues          []string     `json:"langues"`
	SoftSkills       []string     `json:"soft_skills"`
	ResumeProfil     string       `json:"resume_profil"`
}

type Experience struct {
	Poste       string   `json:"poste"`
	Entreprise  string   `json:"entreprise"`
	Duree       string   `json:"duree"`
	PointsForts []string `json:"points_forts"`
}

type Formation struct {
	Diplome string `json:"diplome"`
	Ecole   string `json:"ecole"`
	Annee   string `json:"annee"`
}

// Offer is the structured view of a job offer. URL and Text carry the source
// the analysis was made from.
type Offer struct {
	URL                 string   `json:"url,omitempty"`
	Text                string   `json:"text"`
	TitrePoste          string   `json:"titre_poste"`
	Entreprise          string   `json:"entreprise,omitempty"`
	Secteur             string   `json:"secteur"`
	CompetencesRequises []string `json:"competences_requises"`
	MotsClesATS         []string `json:"mots_cles_ats"`
	Responsabilites     []string `json:"responsabilites"`
	ProfilRecherche     string   `json:"profil_recherche,omitempty"`
	NiveauExperience    string   `json:"niveau_experience,omitempty"`
	TypePoste           string   `json:"type_poste,omitempty"`
}

// ProfileResult tells a parsed profile apart from a placeholder used when the
// model answered with something that could not be decoded.
type ProfileResult struct {
	Profile     Profile
	Placeholder bool
}

// OfferResult is the offer counterpart of ProfileResult.
type OfferResult struct {
	Offer       Offer
	Placeholder bool
	Cached      bool
}

// Offer source modes.
const (
	ModeURL  = "url"
	ModeText = "text"
)

// OfferRequest selects where the offer text comes from.
type OfferRequest struct {
	Mode string `json:"mode"`
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

// FlexibleInt accepts numbers, numeric strings and null. Models are not
// consistent about quoting numbers.
type FlexibleInt int

func (f *FlexibleInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := jsonx.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// "5 ans" and friends: keep the leading digits.
		digits := strings.TrimLeftFunc(raw, func(r rune) bool { return r < '0' || r > '9' })
		end := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' })
		if end >= 0 {
			digits = digits[:end]
		}
		if digits == "" {
			*f = 0
			return nil
		}
		n, err = strconv.ParseFloat(digits, 64)
		if err != nil {
			return err
		}
	}
	*f = FlexibleInt(int(n))
	return nil
}

func placeholderProfile() Profile {
	return Profile{
		Nom:              "Profil",
		Titre:            "Professionnel",
		AnneesExperience: 5,
		CompetencesCles:  []string{"Leadership", "Gestion de projet"},
		Experiences:      []Experience{},
		Formations:       []Formation{},
		Langues:          []string{"Français"},
		SoftSkills:       []string{},
		ResumeProfil:     "Profil extrait.",
	}
}

func placeholderOffer() Offer {
	return Offer{
		TitrePoste:          "Poste",
		CompetencesRequises: []string{},
		MotsClesATS:         []string{},
		Responsabilites:     []string{},
	}
}
