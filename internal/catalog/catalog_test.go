package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

const sampleListing = `rank,total,good,edits,views,admins,users,activeusers,images,prefix,type,language,loclang,method,lastupdated,http,ts,si_sitename
1,100,50,1000,0,10,100,10,5,en,wikipedia,English,English,8,1,200,x,Wikipedia
2,90,40,900,0,9,90,9,4,fr,wikipedia,French,Fran&ccedil;ais,8,1,200,x,Wikipédia
3,80,30,800,0,8,80,8,3,en,wiktionary,English,English,8,1,200,x,Wiktionary
4,70,20,700,0,7,70,7,2,fr,wikisource,Francais,Fran&ccedil;ais,8,1,200,x,Wikisource
5,60,10,600,0,6,60,6,1,commons.wikimedia.org,special,Multilingual,Multilingual,8,1,200,x,Commons
6,50,10,500,0,5,50,5,1,www.wikimedia.de,special,German,Deutsch,8,1,200,x,Wikimedia Deutschland
7,40,10,400,0,4,40,4,1,nl.wikimedia.org,special,Dutch,Nederlands,8,1,200,x,Wikimedia Nederland
8,30,10,300,0,3,30,3,1,strange.example.net,special,English,English,8,1,200,x,Odd
9,20,10,200,0,2,20,2,1,xx,,English,English,8,1,200,x,Missing
10,10,10,100,0,1,10,1,1,yy,1234,English,English,8,1,200,x,Numeric
`

func buildSample(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Build([]byte(sampleListing))
	require.NoError(t, err)
	return cat
}

func TestBuild_RegularWikis(t *testing.T) {
	cat := buildSample(t)

	code, ok := cat.LookupByHostname("en.wikipedia.org")
	require.True(t, ok)
	assert.Equal(t, "en_wikipedia", code)

	meta, ok := cat.Metadata("fr_wikipedia")
	require.True(t, ok)
	assert.Equal(t, "wikipedia", meta.Type)
	assert.Equal(t, "French", meta.Language)
	assert.Equal(t, "fr", meta.LangCode)
	assert.Equal(t, "Français", meta.LocalLanguage, "HTML entities are unescaped")
	assert.Equal(t, "French Wikipedia", meta.DisplayName)
	assert.Equal(t, "100", cat.wikis["en_wikipedia"].Columns["total"])
}

func TestBuild_SpecialWikis(t *testing.T) {
	cat := buildSample(t)

	code, ok := cat.LookupByHostname("commons.wikimedia.org")
	require.True(t, ok)
	assert.Equal(t, "commons", code)
	meta, _ := cat.Metadata("commons")
	assert.Equal(t, "Commons Wiki", meta.DisplayName)
	assert.Equal(t, domain.LanguageCodeMulti, meta.LangCode)
	assert.Equal(t, domain.WikiTypeSpecial, meta.Type)

	code, ok = cat.LookupByHostname("www.wikimedia.de")
	require.True(t, ok)
	assert.Equal(t, "de_wikimedia", code)
	meta, _ = cat.Metadata(code)
	assert.Contains(t, meta.DisplayName, "De")

	code, ok = cat.LookupByHostname("nl.wikimedia.org")
	require.True(t, ok)
	assert.Equal(t, "nl_wikimedia", code)

	_, ok = cat.LookupByHostname("strange.example.net")
	assert.False(t, ok, "unrecognised special hosts are skipped")
}

func TestBuild_AlwaysIncludesWikidata(t *testing.T) {
	cat, err := Build([]byte("rank,prefix,type,language,loclang\n"))
	require.NoError(t, err)

	code, ok := cat.LookupByHostname("www.wikidata.org")
	require.True(t, ok)
	assert.Equal(t, "wikidata", code)

	code, ok = cat.LookupByHostname("test.wikidata.org")
	require.True(t, ok)
	assert.Equal(t, "testwikidata", code)

	assert.Equal(t, []string{domain.WikiTypeSpecial}, cat.TypeNames())
}

func TestBuild_SkipsInvalidTypes(t *testing.T) {
	cat := buildSample(t)

	_, ok := cat.LookupByHostname("xx..org")
	assert.False(t, ok)
	_, ok = cat.Metadata("yy_1234")
	assert.False(t, ok)
	assert.Equal(t, 10, cat.Rows())
}

func TestBuild_Types(t *testing.T) {
	cat := buildSample(t)

	assert.Equal(t, []string{"special", "wikipedia", "wiktionary", "wikisource"}, cat.TypeNames())
	assert.Equal(t, domain.WikiType{WikiType: "special"}, cat.Types()[0])
}

func TestBuild_LanguagesFirstNameWins(t *testing.T) {
	cat := buildSample(t)

	langs := cat.Languages()
	require.Len(t, langs, 2)
	assert.Equal(t, domain.Language{LangCode: "en", EnName: "English", LocalName: "English"}, langs[0])
	assert.Equal(t, "French", langs[1].EnName)

	name, ok := cat.LanguageName("fr")
	require.True(t, ok)
	assert.Equal(t, "French", name)

	_, ok = cat.LanguageName("zz")
	assert.False(t, ok)
}

func TestBuild_WikiCodesInLoadOrder(t *testing.T) {
	cat := buildSample(t)

	codes := cat.WikiCodes()
	require.NotEmpty(t, codes)
	assert.Equal(t, domain.WikiCode{WikiCode: "en_wikipedia", DisplayName: "English Wikipedia"}, codes[0])
	assert.Equal(t, "testwikidata", codes[len(codes)-1].WikiCode)
	assert.Len(t, cat.Wikis(), cat.Len())
}

func TestBuild_RowsBeforeHeaderAreSkipped(t *testing.T) {
	cat, err := Build([]byte("1,en,wikipedia,English,English\nrank,prefix,type,language,loclang\n2,de,wikipedia,German,Deutsch\r\n"))
	require.NoError(t, err)

	_, ok := cat.Metadata("de_wikipedia")
	assert.True(t, ok)
	assert.Equal(t, 2, cat.Rows())
}
