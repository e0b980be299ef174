package graphstore

const (
	cypherSymptomPrimary = `
MATCH (s:Disease)-[p:IS_SYMPTOM]->(o:Symptom)
WHERE toLower(o.name) CONTAINS toLower($q)
RETURN s.name AS s, type(p) AS p, o.name AS o
LIMIT $limit`

	cypherSymptomGeneric = `
MATCH (s)-[p]->(o)
WHERE o.name IS NOT NULL AND toLower(o.name) CONTAINS toLower($q)
RETURN coalesce(s.name, toString(id(s))) AS s, type(p) AS p, coalesce(o.name, toString(id(o))) AS o
LIMIT $limit`

	cypherSimilarSymptoms = `
MATCH (s:Symptom)
WHERE any(target IN $targets WHERE toLower(s.name) CONTAINS target)
RETURN s.name AS name
ORDER BY s.name`

	cypherAllExact = `
MATCH (d:Disease)-[:IS_SYMPTOM]->(s:Symptom)
WHERE toLower(s.name) IN $symptoms
WITH d, collect(DISTINCT toLower(s.name)) AS matched
WHERE size(matched) = $symptom_count
MATCH (d)-[r2:IS_SYMPTOM]->(s2:Symptom)
WHERE toLower(s2.name) IN $symptoms
RETURN d.name AS s, type(r2) AS p, s2.name AS o
LIMIT $limit`

	cypherAllPartial = `
MATCH (d:Disease)-[:IS_SYMPTOM]->(s:Symptom)
WHERE any(symptom IN $symptoms WHERE toLower(s.name) CONTAINS symptom)
WITH d, collect(DISTINCT s.name) AS matched
WHERE size(matched) >= $min_matches
MATCH (d)-[r2:IS_SYMPTOM]->(s2:Symptom)
WHERE any(symptom IN $symptoms WHERE toLower(s2.name) CONTAINS symptom)
RETURN d.name AS s, type(r2) AS p, s2.name AS o
LIMIT $limit`

	cypherAllGeneric = `
MATCH (d)-[]->(s)
WHERE s.name IS NOT NULL AND toLower(s.name) IN $symptoms
WITH d, collect(DISTINCT toLower(s.name)) AS matched
WHERE size(matched) = $symptom_count
MATCH (d)-[r2]->(s2)
WHERE s2.name IS NOT NULL AND toLower(s2.name) IN $symptoms
RETURN coalesce(d.name, toString(id(d))) AS s, type(r2) AS p, s2.name AS o
LIMIT $limit`

	cypherInsertTriples = `
UNWIND $rows AS row
MERGE (s:Disease {name: row.s})
MERGE (o:Symptom {name: row.o})
MERGE (s)-[:IS_SYMPTOM]->(o)`

	cypherInsertGeneric = `
UNWIND $rows AS row
MERGE (s:Entity {name: row.s})
MERGE (o:Entity {name: row.o})
MERGE (s)-[r:REL {type: row.p}]->(o)`
)
