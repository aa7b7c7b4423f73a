package resume

import (
	"fmt"
	"strings"
)

const (
	cvPromptLimit      = 6000
	offerTextLimit     = 5000
	generateCVLimit    = 5000
	analyzeCVMaxTokens = 1500
	analyzeOfferTokens = 1200
	generateMaxTokens  = 3000
)

const analyzeCVSystemPrompt = `Expert RH. Analyse ce CV et retourne UNIQUEMENT un JSON valide sans markdown:
{"nom":"","titre":"","annees_experience":0,"competences_cles":[],"experiences":[{"poste":"","entreprise":"","duree":"","points_forts":[]}],"formations":[{"diplome":"","ecole":"","annee":""}],"langues":[],"soft_skills":[],"resume_profil":""}`

const analyzeOfferSystemPrompt = `Analyse cette offre, retourne UNIQUEMENT un JSON valide sans markdown:
{"titre_poste":"","entreprise":"","secteur":"","competences_requises":[],"mots_cles_ats":[],"responsabilites":[],"profil_recherche":"","niveau_experience":"","type_poste":""}`

const generateSystemPrompt = `Expert en optimisation CV pour systèmes ATS.

RÈGLES ABSOLUES:
1. Ne jamais inventer d'expériences, diplômes ou compétences inexistants
2. Uniquement réorganiser, reformuler et valoriser ce qui existe
3. Intégrer les mots-clés ATS naturellement dans les formulations existantes
4. Prioriser les expériences pertinentes pour ce poste
5. Verbes d'action forts, métriques existantes uniquement

Format markdown:

# [Prénom Nom]
[Titre adapté] · [Email] · [Téléphone] · [Ville]

## Profil
[2-3 phrases percutantes avec mots-clés du poste, basées sur vraies expériences]

## Compétences
**[Catégorie]:** comp1, comp2, comp3

## Expériences
### [Titre] · [Entreprise] · [Dates]
- [Réalisation concrète, verbe d'action]

## Formation
### [Diplôme] · [École] · [Année]

## Langues
[Langues et niveaux]

---
SCORE_ATS: [0-100]
POINTS_FORTS: [point1 | point2 | point3]
RECOMMANDATIONS: [conseil1 | conseil2]`

func analyzeCVUserContent(cvText string) string {
	return "Voici le contenu du CV:\n\n" + truncateRunes(cvText, cvPromptLimit)
}

func analyzeOfferUserContent(offerText string) string {
	return "Offre d'emploi:\n\n" + offerText
}

func generateUserContent(cvText string, offer Offer) string {
	return fmt.Sprintf("CV:\n%s\n\nOFFRE:\nPoste: %s\nSecteur: %s\nCompétences: %s\nMots-clés ATS: %s\nProfil: %s",
		truncateRunes(cvText, generateCVLimit),
		offer.TitrePoste,
		offer.Secteur,
		strings.Join(offer.CompetencesRequises, ", "),
		strings.Join(offer.MotsClesATS, ", "),
		offer.ProfilRecherche,
	)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
