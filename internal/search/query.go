package search

import (
	"loan-orchestrator/internal/models"
)

// buildApplicationQuery translates a listing filter into an Elasticsearch
// bool query sorted newest first.
func buildApplicationQuery(f models.ApplicationFilter) map[string]interface{} {
	f = f.Normalized()
	must := []interface{}{}
	filter := []interface{}{}

	if f.Query != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  f.Query,
				"fields": []string{"extractedName^3", "employerName^2", "documentType", "id", "userId"},
				"type":   "best_fields",
			},
		})
	}
	if f.UserID != "" {
		filter = append(filter, term("userId", f.UserID))
	}
	if f.Status != "" {
		filter = append(filter, term("status", string(f.Status)))
	}
	if f.Country != "" {
		filter = append(filter, term("country", string(f.Country)))
	}
	if f.HighRiskOnly {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{
				"fraudRiskScore": map[string]interface{}{"gt": models.HighRiskThreshold},
			},
		})
	}

	if len(must) == 0 {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}
	boolQuery := map[string]interface{}{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []interface{}{
			map[string]interface{}{"submittedAt": map[string]interface{}{"order": "desc"}},
			map[string]interface{}{"id": map[string]interface{}{"order": "asc"}},
		},
		"from":    f.Offset,
		"size":    f.Limit,
		"_source": []string{"id"},
	}
}

func term(field, value string) map[string]interface{} {
	return map[string]interface{}{"term": map[string]interface{}{field: value}}
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":             {"type": "keyword"},
      "userId":         {"type": "keyword"},
      "country":        {"type": "keyword"},
      "status":         {"type": "keyword"},
      "amount":         {"type": "double"},
      "months":         {"type": "integer"},
      "monthlyPayment": {"type": "double"},
      "fraudRiskScore": {"type": "double"},
      "highRisk":       {"type": "boolean"},
      "documentType":   {"type": "text"},
      "employerName":   {"type": "text"},
      "extractedName":  {"type": "text"},
      "isMatch":        {"type": "boolean"},
      "signed":         {"type": "boolean"},
      "submittedAt":    {"type": "date"},
      "updatedAt":      {"type": "date"}
    }
  }
}`
