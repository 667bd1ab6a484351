package usecase

import (
	"testing"

	"github.com/lexrag/query-engine/internal/core/domain"
)

func findEntity(entities []domain.QueryEntity, entityType domain.EntityType) (domain.QueryEntity, bool) {
	for _, e := range entities {
		if e.Type == entityType {
			return e, true
		}
	}
	return domain.QueryEntity{}, false
}

func TestExtractEntitiesArticleVariants(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"artículo 76", "76"},
		{"articulo 76", "76"},
		{"art. 15 de la ley", "15"},
		{"qué dice el artículo n° 233", "233"},
	}
	for _, tc := range cases {
		entities := extractEntities(normalizeQuery(tc.query))
		article, ok := findEntity(entities, domain.EntityArticle)
		if !ok {
			t.Fatalf("query %q: expected article entity, got %+v", tc.query, entities)
		}
		if article.NormalizedValue != tc.want {
			t.Fatalf("query %q: expected %q, got %q", tc.query, tc.want, article.NormalizedValue)
		}
	}
}

func TestExtractEntitiesRomanChapterAndSection(t *testing.T) {
	entities := extractEntities("capítulo iv y sección xii")

	chapter, ok := findEntity(entities, domain.EntityChapter)
	if !ok || chapter.NormalizedValue != "4" {
		t.Fatalf("expected chapter 4, got %+v", entities)
	}
	section, ok := findEntity(entities, domain.EntitySection)
	if !ok || section.NormalizedValue != "12" {
		t.Fatalf("expected section 12, got %+v", entities)
	}
}

func TestExtractEntitiesArabicChapterStaysArabic(t *testing.T) {
	entities := extractEntities("capítulo 3")
	chapter, ok := findEntity(entities, domain.EntityChapter)
	if !ok || chapter.NormalizedValue != "3" {
		t.Fatalf("expected chapter 3, got %+v", entities)
	}
}

func TestExtractEntitiesLawNames(t *testing.T) {
	entities := extractEntities("diferencias entre la ley de compañías y el código civil")

	laws := make([]string, 0, 2)
	for _, e := range entities {
		if e.Type == domain.EntityLaw {
			laws = append(laws, e.NormalizedValue)
		}
	}
	if len(laws) != 2 {
		t.Fatalf("expected two law entities, got %+v", entities)
	}
}

func TestExtractEntitiesConstitutionWithoutPrefix(t *testing.T) {
	entities := extractEntities("¿cuántos artículos tiene la constitución de la república?")
	law, ok := findEntity(entities, domain.EntityLaw)
	if !ok {
		t.Fatalf("expected law entity, got %+v", entities)
	}
	if law.NormalizedValue != "constitución de la república" {
		t.Fatalf("unexpected law value %q", law.NormalizedValue)
	}
}

func TestExtractEntitiesDateAndQuotedPhrase(t *testing.T) {
	entities := extractEntities(`norma publicada el 12 de mayo de 2008 sobre "debido proceso"`)

	date, ok := findEntity(entities, domain.EntityDate)
	if !ok || date.NormalizedValue != "12 de mayo de 2008" {
		t.Fatalf("expected date entity, got %+v", entities)
	}
	quoted, ok := findEntity(entities, domain.EntityGeneric)
	if !ok || quoted.NormalizedValue != "debido proceso" {
		t.Fatalf("expected quoted entity, got %+v", entities)
	}
}

func TestExtractEntitiesOrderedByPosition(t *testing.T) {
	entities := extractEntities("compara el artículo 10 con el artículo 20")

	articles := make([]string, 0, 2)
	for _, e := range entities {
		if e.Type == domain.EntityArticle {
			articles = append(articles, e.NormalizedValue)
		}
	}
	if len(articles) != 2 || articles[0] != "10" || articles[1] != "20" {
		t.Fatalf("expected articles [10 20] in position order, got %v", articles)
	}

	for i := 1; i < len(entities); i++ {
		if entities[i].Position < entities[i-1].Position {
			t.Fatalf("entities not ordered by position: %+v", entities)
		}
	}
}

func TestExtractEntitiesEmptyQuery(t *testing.T) {
	if entities := extractEntities(""); len(entities) != 0 {
		t.Fatalf("expected no entities, got %+v", entities)
	}
}
