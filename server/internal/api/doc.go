// Package api implements the HTTP surface of fhirlite-server.
//
// New(Deps) returns an http.Handler (chi router) that serves:
//
//	GET    /                          banner
//	GET    /health                    store probe; 503 when unreadable
//	GET    /metrics                   Prometheus text format
//	GET    /ws/audit                  live audit feed (WebSocket)
//	GET    /fhir/Patient?page=&size=  {total, page, size, data}
//	GET    /fhir/Patient/search?name= case-insensitive substring search
//	GET    /fhir/Patient/{id}         one patient
//	POST   /fhir/Patient              create, 201
//	PUT    /fhir/Patient/{id}         full replace
//	PATCH  /fhir/Patient/{id}         partial update
//	DELETE /fhir/Patient/{id}         delete with its observations
//	GET    /fhir/Observation/{pid}    observations of one patient
//	POST   /fhir/Observation          create, 201 {id, message}
//	GET    /fhir/AuditLog             audit entries, oldest first
//
// /fhir/* and /ws/audit require the API key. Errors are {"error": msg}:
// conflict and validation 400, not found 404, storage 500, auth 401.
package api
