package resume

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cvadapt/internal/errors"
	"cvadapt/internal/llm"
)

const offerReply = `{"titre_poste":"Développeur Go","entreprise":"Acme","secteur":"SaaS","competences_requises":["Go","PostgreSQL"],"mots_cles_ats":["microservices"],"responsabilites":["API"],"profil_recherche":"Senior"}`

func TestAnalyzeCVParsesProfile(t *testing.T) {
	completer := llm.NewMockCompleter(`{"nom":"Ada","titre":"Dev","annees_experience":3}`)
	analyzer := NewAnalyzer(completer, Config{})

	cv := strings.Repeat("x", 7000)
	result, err := analyzer.AnalyzeCV(context.Background(), cv)
	require.NoError(t, err)
	assert.False(t, result.Placeholder)
	assert.Equal(t, "Ada", result.Profile.Nom)
	assert.NotNil(t, result.Profile.Experiences)

	reqs := completer.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, analyzeCVMaxTokens, reqs[0].MaxTokens)
	assert.Equal(t, analyzeCVSystemPrompt, reqs[0].System)
	assert.Len(t, reqs[0].Messages[0].Content, len("Voici le contenu du CV:\n\n")+cvPromptLimit)
}

func TestAnalyzeCVFallsBackToPlaceholder(t *testing.T) {
	analyzer := NewAnalyzer(llm.NewMockCompleter("Désolé, je ne peux pas."), Config{})
	result, err := analyzer.AnalyzeCV(context.Background(), "mon cv")
	require.NoError(t, err)
	assert.True(t, result.Placeholder)
	assert.Equal(t, "Profil", result.Profile.Nom)
	assert.Equal(t, FlexibleInt(5), result.Profile.AnneesExperience)
}

func TestAnalyzeCVPropagatesCollaboratorFailure(t *testing.T) {
	completer := llm.NewMockCompleter()
	completer.FailWith(apperrors.Collaborator("anthropic", 503, "Erreur Anthropic: 503 overloaded", errors.New("overloaded")))
	analyzer := NewAnalyzer(completer, Config{})

	_, err := analyzer.AnalyzeCV(context.Background(), "mon cv")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCollaborator, apperrors.KindOf(err))
}

func TestAnalyzeCVRequiresText(t *testing.T) {
	completer := llm.NewMockCompleter("{}")
	analyzer := NewAnalyzer(completer, Config{})
	_, err := analyzer.AnalyzeCV(context.Background(), "  ")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Zero(t, completer.Calls())
}

func TestAnalyzeOfferTextModeAndCache(t *testing.T) {
	completer := llm.NewMockCompleter(offerReply)
	analyzer := NewAnalyzer(completer, Config{})
	ctx := context.Background()

	first, err := analyzer.AnalyzeOffer(ctx, OfferRequest{Mode: ModeText, Text: "Nous recrutons un développeur Go"})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "Développeur Go", first.Offer.TitrePoste)
	assert.Equal(t, "Nous recrutons un développeur Go", first.Offer.Text)
	assert.Empty(t, first.Offer.URL)

	second, err := analyzer.AnalyzeOffer(ctx, OfferRequest{Mode: ModeText, Text: "Nous recrutons un développeur Go"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Offer, second.Offer)
	assert.Equal(t, 1, completer.Calls())
}

func TestAnalyzeOfferPlaceholderIsNotCached(t *testing.T) {
	completer := llm.NewMockCompleter("pas du json", offerReply)
	analyzer := NewAnalyzer(completer, Config{})
	ctx := context.Background()

	first, err := analyzer.AnalyzeOffer(ctx, OfferRequest{Mode: ModeText, Text: "offre"})
	require.NoError(t, err)
	assert.True(t, first.Placeholder)
	assert.Equal(t, "Poste", first.Offer.TitrePoste)
	assert.Equal(t, "offre", first.Offer.Text)

	second, err := analyzer.AnalyzeOffer(ctx, OfferRequest{Mode: ModeText, Text: "offre"})
	require.NoError(t, err)
	assert.False(t, second.Placeholder)
	assert.Equal(t, 2, completer.Calls())
}

func TestAnalyzeOfferValidation(t *testing.T) {
	analyzer := NewAnalyzer(llm.NewMockCompleter(offerReply), Config{})
	ctx := context.Background()

	cases := map[string]OfferRequest{
		"mode invalide": {Mode: "pdf"},
		"url requise":   {Mode: ModeURL},
		"text requis":   {Mode: ModeText, Text: " "},
		"url invalide":  {Mode: ModeURL, URL: "ftp://example.com/job"},
	}
	for msg, req := range cases {
		_, err := analyzer.AnalyzeOffer(ctx, req)
		require.Error(t, err, msg)
		assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), msg)
		assert.Equal(t, msg, apperrors.PublicMessage(err, ""))
	}
}

func TestAnalyzeOfferURLMode(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><style>.x{color:red}</style><script>var a = 1;</script></head>
<body><h1>Développeur   Go</h1><p>Missions:<b>API</b> et
  microservices</p></body></html>`))
	}))
	t.Cleanup(server.Close)

	completer := llm.NewMockCompleter(offerReply)
	analyzer := NewAnalyzer(completer, Config{HTTPClient: server.Client()})

	result, err := analyzer.AnalyzeOffer(context.Background(), OfferRequest{Mode: ModeURL, URL: server.URL + "/job/1"})
	require.NoError(t, err)
	assert.Equal(t, "Mozilla/5.0 CVAdaptBot/1.0", gotUA)
	assert.Equal(t, server.URL+"/job/1", result.Offer.URL)
	assert.Equal(t, "Développeur Go Missions: API et microservices", result.Offer.Text)
	assert.NotContains(t, result.Offer.Text, "color")
	assert.NotContains(t, result.Offer.Text, "var a")

	reqs := completer.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Offre d'emploi:\n\n"+result.Offer.Text, reqs[0].Messages[0].Content)
	assert.Equal(t, analyzeOfferTokens, reqs[0].MaxTokens)
}

func TestAnalyzeOfferURLFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(server.Close)

	completer := llm.NewMockCompleter(offerReply)
	analyzer := NewAnalyzer(completer, Config{HTTPClient: server.Client()})

	_, err := analyzer.AnalyzeOffer(context.Background(), OfferRequest{Mode: ModeURL, URL: server.URL})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCollaborator, apperrors.KindOf(err))
	assert.Equal(t, "Impossible de récupérer l'URL de l'offre", apperrors.PublicMessage(err, ""))
	assert.Zero(t, completer.Calls())
}

func TestGenerateBuildsPrompt(t *testing.T) {
	completer := llm.NewMockCompleter("# Ada Lovelace")
	analyzer := NewAnalyzer(completer, Config{})

	out, err := analyzer.Generate(context.Background(), "mon cv", Offer{
		TitrePoste:          "Dev Go",
		Secteur:             "SaaS",
		CompetencesRequises: []string{"Go", "SQL"},
		MotsClesATS:         []string{"API"},
		ProfilRecherche:     "Senior",
	})
	require.NoError(t, err)
	assert.Equal(t, "# Ada Lovelace", out)

	req := completer.Requests()[0]
	assert.Equal(t, generateMaxTokens, req.MaxTokens)
	assert.Equal(t, "CV:\nmon cv\n\nOFFRE:\nPoste: Dev Go\nSecteur: SaaS\nCompétences: Go, SQL\nMots-clés ATS: API\nProfil: Senior", req.Messages[0].Content)
}
