package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// MatchMethod indicates how a patient was matched
type MatchMethod string

const (
	MatchIdentity MatchMethod = "identity"
	MatchPID      MatchMethod = "pid"
	MatchNone     MatchMethod = "none"
)

// Issuer hands out fresh anonymized patient identifiers.
type Issuer interface {
	IssuePatientID() (string, error)
}

// ReverseMapEntry stores reverse lookup info for audit trail
type ReverseMapEntry struct {
	IdentityHashes []string `json:"identity_hashes"`
	PatientIDs     []string `json:"patient_ids"`
}

// MapperData is the JSON structure for persistence
type MapperData struct {
	IdentityMap map[string]string           `json:"identity_map"`
	PIDMap      map[string]string           `json:"pid_map"`
	ReverseMap  map[string]*ReverseMapEntry `json:"reverse_map"`
	Updated     string                      `json:"updated"`
	Note        string                      `json:"note"`
}

// PatientMapper keeps one anonymized patient ID per real patient across
// files and runs. Keys are the identity hash of Name+DOB, falling back to
// the normalized PatientID.
type PatientMapper struct {
	mu          sync.Mutex
	mappingFile string
	salt        string
	issuer      Issuer
	identityMap map[string]string           // identity_hash -> anon_id
	pidMap      map[string]string           // normalized patient_id -> anon_id
	reverseMap  map[string]*ReverseMapEntry // anon_id -> info
}

// NewPatientMapper creates a mapper, loading mappingFile if it exists.
func NewPatientMapper(mappingFile, salt string, issuer Issuer) *PatientMapper {
	m := &PatientMapper{
		mappingFile: mappingFile,
		salt:        salt,
		issuer:      issuer,
		identityMap: make(map[string]string),
		pidMap:      make(map[string]string),
		reverseMap:  make(map[string]*ReverseMapEntry),
	}

	if mappingFile != "" {
		m.load()
	}

	return m
}

func (m *PatientMapper) load() {
	data, err := os.ReadFile(m.mappingFile)
	if err != nil {
		return // File doesn't exist, start fresh
	}

	var mapData MapperData
	if err := json.Unmarshal(data, &mapData); err != nil {
		log.Warnf("could not load mapping file %s: %v", m.mappingFile, err)
		return
	}

	if mapData.IdentityMap != nil {
		m.identityMap = mapData.IdentityMap
	}
	if mapData.PIDMap != nil {
		m.pidMap = mapData.PIDMap
	}
	if mapData.ReverseMap != nil {
		m.reverseMap = mapData.ReverseMap
	}

	log.Infof("loaded %d patient mappings from %s", len(m.anonIDs()), m.mappingFile)
}

// Save writes the mapping file. A mapper without a file is a no-op.
func (m *PatientMapper) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

func (m *PatientMapper) save() error {
	if m.mappingFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(m.mappingFile), 0755); err != nil {
		return errors.Wrap(err, "could not create mapping directory")
	}

	mapData := MapperData{
		IdentityMap: m.identityMap,
		PIDMap:      m.pidMap,
		ReverseMap:  m.reverseMap,
		Updated:     time.Now().Format(time.RFC3339),
		Note:        "identity_map uses hash(Name+DOB), pid_map is fallback for missing identity",
	}

	data, err := json.MarshalIndent(mapData, "", "  ")
	if err != nil {
		return errors.Wrap(err, "could not marshal mapping data")
	}

	if err := os.WriteFile(m.mappingFile, data, 0600); err != nil {
		return errors.Wrap(err, "could not save mapping file")
	}
	return nil
}

func (m *PatientMapper) updateReverseMap(anonID, identityHash, patientID string) {
	entry := m.reverseMap[anonID]
	if entry == nil {
		entry = &ReverseMapEntry{IdentityHashes: []string{}, PatientIDs: []string{}}
		m.reverseMap[anonID] = entry
	}

	if identityHash != "" && !contains(entry.IdentityHashes, identityHash) {
		entry.IdentityHashes = append(entry.IdentityHashes, identityHash)
	}
	if patientID != "" && !contains(entry.PatientIDs, patientID) {
		entry.PatientIDs = append(entry.PatientIDs, patientID)
	}
}

func contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

// NormalizePatientID folds a patient ID for comparison: surrounding
// whitespace is ignored and case does not matter.
func NormalizePatientID(pid string) string {
	return strings.ToUpper(strings.TrimSpace(pid))
}

// GetAnonID gets or creates an anonymized ID for a patient.
// Uses Name+DOB for identity matching when available, falls back to PatientID.
func (m *PatientMapper) GetAnonID(patientID, patientName, patientDOB string) (string, MatchMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pid := NormalizePatientID(patientID)
	patientName = strings.TrimSpace(patientName)
	patientDOB = strings.TrimSpace(patientDOB)

	if IsValidIdentity(patientName, patientDOB) {
		identityHash := CreateIdentityHash(patientName, patientDOB, m.salt)

		if anonID, ok := m.identityMap[identityHash]; ok {
			if pid != "" {
				if _, exists := m.pidMap[pid]; !exists {
					m.pidMap[pid] = anonID
					m.updateReverseMap(anonID, "", pid)
				}
			}
			return anonID, MatchIdentity, nil
		}

		// Link the identity to an existing PID mapping.
		if anonID, ok := m.pidMap[pid]; ok && pid != "" {
			m.identityMap[identityHash] = anonID
			m.updateReverseMap(anonID, identityHash, pid)
			return anonID, MatchIdentity, nil
		}

		anonID, err := m.issuer.IssuePatientID()
		if err != nil {
			return "", MatchNone, err
		}
		m.identityMap[identityHash] = anonID
		if pid != "" {
			m.pidMap[pid] = anonID
		}
		m.updateReverseMap(anonID, identityHash, pid)
		return anonID, MatchIdentity, nil
	}

	if pid != "" {
		if anonID, ok := m.pidMap[pid]; ok {
			return anonID, MatchPID, nil
		}

		anonID, err := m.issuer.IssuePatientID()
		if err != nil {
			return "", MatchNone, err
		}
		m.pidMap[pid] = anonID
		m.updateReverseMap(anonID, "", pid)
		return anonID, MatchPID, nil
	}

	anonID, err := m.issuer.IssuePatientID()
	if err != nil {
		return "", MatchNone, err
	}
	return anonID, MatchNone, nil
}

// AnonIDs returns every anonymized ID the mapper knows, sorted.
func (m *PatientMapper) AnonIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anonIDs()
}

func (m *PatientMapper) anonIDs() []string {
	unique := make(map[string]bool)
	for _, id := range m.identityMap {
		unique[id] = true
	}
	for _, id := range m.pidMap {
		unique[id] = true
	}
	ids := make([]string, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns mapping statistics
type Stats struct {
	TotalPatients   int
	IdentityMatched int
	PIDFallback     int
}

// GetStats returns mapping statistics
func (m *PatientMapper) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	identityValues := make(map[string]bool)
	for _, v := range m.identityMap {
		identityValues[v] = true
	}

	pidOnly := 0
	for _, v := range m.pidMap {
		if !identityValues[v] {
			pidOnly++
		}
	}

	return Stats{
		TotalPatients:   len(m.reverseMap),
		IdentityMatched: len(m.identityMap),
		PIDFallback:     pidOnly,
	}
}
