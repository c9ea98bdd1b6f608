// Package equimatch matches building equipment records against a reference
// catalog and suggests probably-missing installations.
//
// The pipeline has three concerns: near-duplicate records are collapsed by
// embedding similarity, each remaining representative is assigned to a
// catalog heading (locally where possible, via an external classification
// service otherwise), and the building database is mined for statistical
// and structural gaps.
//
// Basic usage:
//
//	m, err := equimatch.New(catalogEntries,
//		equimatch.WithModelPaths("models/model.onnx", "models/vocab.txt"),
//		equimatch.WithStorePath("equimatch.db"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close()
//
//	result, err := m.Run(ctx, records, observations)
//
// Creating a Matcher loads the ONNX model and pre-embeds the catalog
// headings, which is expensive. Create one and reuse it.
package equimatch
