// Package identifier models biological identifiers as namespace-tagged
// values so that resolution never confuses identifiers from different
// naming schemes that happen to share the same string form.
package identifier

import "fmt"

// Namespace names an identifier scheme. The canonical namespace all sources
// are normalized into before joining is chosen per integration run; any
// namespace may serve as the canonical one.
type Namespace string

// Namespaces observed across the supported omics layers and annotation
// databases. The set is open: adapters may declare additional namespaces.
const (
	GeneSymbol        Namespace = "gene_symbol"
	GeneEnsembl       Namespace = "gene_ensembl"
	TranscriptEnsembl Namespace = "transcript_ensembl"
	ProteinUniprot    Namespace = "protein_uniprot"
	SampleID          Namespace = "sample_id"
	DiseaseOMIM       Namespace = "disease_omim"
	GOTerm            Namespace = "go_term"
	PathwayReactome   Namespace = "pathway_reactome"
)

// Identifier is a raw identifier tagged with the namespace it was minted in.
type Identifier struct {
	Namespace Namespace
	Value     string
}

// New constructs an Identifier.
func New(ns Namespace, value string) Identifier {
	return Identifier{Namespace: ns, Value: value}
}

// IsZero reports whether the identifier carries no value.
func (id Identifier) IsZero() bool {
	return id.Namespace == "" && id.Value == ""
}

// String renders the identifier as namespace:value.
func (id Identifier) String() string {
	return fmt.Sprintf("%s:%s", id.Namespace, id.Value)
}
