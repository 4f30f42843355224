// ABOUTME: Static domain lexicon used to boost area scores
// ABOUTME: Keys are fragments of area names, values are query words that signal that domain

package areas

// Domain groups the keywords that point to one kind of area
type Domain struct {
	// Fragment is matched against the normalized area name
	Fragment string
	Keywords []string
}

// DefaultLexicon covers the consultancy areas the assistant is usually deployed with.
var DefaultLexicon = []Domain{
	{Fragment: "contable", Keywords: []string{"renta", "declaracion", "contabilidad", "estados", "financieros", "libros"}},
	{Fragment: "legal", Keywords: []string{"empresa", "constitucion", "contrato", "legal", "juridico", "derecho"}},
	{Fragment: "financiera", Keywords: []string{"inversion", "financiero", "flujo", "caja", "credito", "prestamo"}},
	{Fragment: "tributaria", Keywords: []string{"impuesto", "fiscal", "tributario", "iva", "retencion", "planeacion", "renta", "declaracion", "declarar"}},
}
