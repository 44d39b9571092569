// Package selections builds the SelectionsBuilder/Serializer of spec.md
// §4.7: projecting a completed solve into an immutable Selections
// document, and serializing/deserializing that document as the
// zero-install-style XML format described in spec.md §6.
//
// Grounded on zeroinstall/tests/testselections.py's round-trip fixture
// (Source/Compiler two-node graph, one "insert=." binding, one foreign
// attribute, version-modifier stripped) and, for "no third-party XML
// library beats encoding/xml with a custom attrs bag" per DESIGN.md,
// implemented on the standard library alone.
package selections

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ipiton/depsolve/internal/model"
)

// Namespace is the XML namespace every selections document lives in.
const Namespace = "http://zero-install.sourceforge.net/2004/injector/interface"

// strippedAttr is never carried into a Selection's Attrs bag even if
// present on the source feed element.
const strippedAttr = "version-modifier"

// Build projects a completed solve (root interface URI plus the
// iface-URI -> chosen Implementation map the Solver produced) into an
// immutable Selections document. Implementation entries that are nil
// (left over from an in-progress or failed branch) are skipped.
func Build(rootURI string, implementation map[string]*model.Implementation) *model.Selections {
	sels := &model.Selections{
		Interface:  rootURI,
		Selections: make(map[string]*model.Selection, len(implementation)),
	}
	for uri, impl := range implementation {
		if impl == nil {
			continue
		}
		sel := &model.Selection{
			InterfaceURI:     uri,
			Implementation:   *impl,
			UsedDependencies: append([]model.Dependency(nil), impl.Dependencies...),
			Attrs:            make(map[string]string),
		}
		sels.Selections[uri] = sel
	}
	return sels
}

type xmlDoc struct {
	XMLName    xml.Name       `xml:"selections"`
	Interface  string         `xml:"interface,attr"`
	Selections []xmlSelection `xml:"selection"`
}

type xmlSelection struct {
	Interface        string          `xml:"interface,attr"`
	ID               string          `xml:"id,attr"`
	Version          string          `xml:"version,attr"`
	LocalPath        string          `xml:"local-path,attr,omitempty"`
	Attrs            []xml.Attr      `xml:",any,attr"`
	ManifestDigest   *xmlManifestDigest `xml:"manifest-digest"`
	Environments     []xmlEnvironment   `xml:"environment"`
	ExecutableInPath []xmlExecInPath    `xml:"executable-in-path"`
	Requires         []xmlRequires      `xml:"requires"`
}

type xmlManifestDigest struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type xmlEnvironment struct {
	Name      string `xml:"name,attr,omitempty"`
	Insert    string `xml:"insert,attr,omitempty"`
	Mode      string `xml:"mode,attr,omitempty"`
	Default   string `xml:"default,attr,omitempty"`
	Separator string `xml:"separator,attr,omitempty"`
}

type xmlExecInPath struct {
	Name string `xml:"name,attr,omitempty"`
}

type xmlRequires struct {
	Interface        string           `xml:"interface,attr"`
	Environments     []xmlEnvironment `xml:"environment"`
	ExecutableInPath []xmlExecInPath  `xml:"executable-in-path"`
}

// Serialize writes sels to w as the namespaced XML document spec.md §6
// describes.
func Serialize(w io.Writer, sels *model.Selections) error {
	doc := xmlDoc{
		XMLName:   xml.Name{Space: Namespace, Local: "selections"},
		Interface: sels.Interface,
	}
	for _, sel := range orderedSelections(sels) {
		doc.Selections = append(doc.Selections, toXMLSelection(sel))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("selections: encoding: %w", err)
	}
	return enc.Flush()
}

// orderedSelections returns sels.Selections in a deterministic order
// (by interface URI) so repeated serializations of the same solve are
// byte-identical.
func orderedSelections(sels *model.Selections) []*model.Selection {
	out := make([]*model.Selection, 0, len(sels.Selections))
	for _, sel := range sels.Selections {
		out = append(out, sel)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].InterfaceURI > out[j].InterfaceURI; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func toXMLSelection(sel *model.Selection) xmlSelection {
	xs := xmlSelection{
		Interface: sel.InterfaceURI,
		ID:        sel.ID,
		Version:   sel.Version.String(),
		LocalPath: sel.LocalPath,
	}
	for _, k := range sortedKeys(sel.Attrs) {
		if k == strippedAttr {
			continue
		}
		ns, local := splitAttrKey(k)
		xs.Attrs = append(xs.Attrs, xml.Attr{Name: xml.Name{Space: ns, Local: local}, Value: sel.Attrs[k]})
	}
	if len(sel.Digests) > 0 {
		md := &xmlManifestDigest{}
		for _, d := range sel.Digests {
			alg, hex, ok := splitDigest(d)
			if !ok {
				continue
			}
			md.Attrs = append(md.Attrs, xml.Attr{Name: xml.Name{Local: alg}, Value: hex})
		}
		xs.ManifestDigest = md
	}
	for _, b := range sel.Bindings {
		appendBinding(&xs.Environments, &xs.ExecutableInPath, b)
	}
	for _, dep := range sel.UsedDependencies {
		xr := xmlRequires{Interface: dep.Interface}
		for _, b := range dep.Bindings {
			appendBinding(&xr.Environments, &xr.ExecutableInPath, b)
		}
		xs.Requires = append(xs.Requires, xr)
	}
	return xs
}

func appendBinding(envs *[]xmlEnvironment, execs *[]xmlExecInPath, b model.Binding) {
	if b.Kind == model.ExecutableInPathBinding {
		*execs = append(*execs, xmlExecInPath{Name: b.Name})
		return
	}
	*envs = append(*envs, xmlEnvironment{
		Name:      b.Name,
		Insert:    b.Insert,
		Mode:      b.Mode,
		Default:   b.Default,
		Separator: b.Separator,
	})
}

// Deserialize parses an XML document previously written by Serialize (or
// a compatible document produced by a real 0install installer) back into
// a Selections value.
func Deserialize(r io.Reader) (*model.Selections, error) {
	var doc xmlDoc
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("selections: decoding: %w", err)
	}

	sels := &model.Selections{
		Interface:  doc.Interface,
		Selections: make(map[string]*model.Selection, len(doc.Selections)),
	}
	for _, xs := range doc.Selections {
		sel, err := fromXMLSelection(xs)
		if err != nil {
			return nil, err
		}
		sels.Selections[sel.InterfaceURI] = sel
	}
	return sels, nil
}

func fromXMLSelection(xs xmlSelection) (*model.Selection, error) {
	version, err := model.ParseVersion(xs.Version)
	if err != nil {
		return nil, fmt.Errorf("selections: selection %s: %w", xs.Interface, err)
	}

	sel := &model.Selection{
		InterfaceURI: xs.Interface,
		Attrs:        make(map[string]string),
	}
	sel.ID = xs.ID
	sel.Version = version
	sel.LocalPath = xs.LocalPath

	for _, a := range xs.Attrs {
		if a.Name.Local == strippedAttr && a.Name.Space == "" {
			continue
		}
		sel.Attrs[attrKey(a.Name)] = a.Value
	}

	if xs.ManifestDigest != nil {
		for _, a := range xs.ManifestDigest.Attrs {
			sel.Digests = append(sel.Digests, a.Name.Local+"="+a.Value)
		}
	}

	sel.Bindings = bindingsFrom(xs.Environments, xs.ExecutableInPath)

	for _, xr := range xs.Requires {
		sel.UsedDependencies = append(sel.UsedDependencies, model.Dependency{
			Interface: xr.Interface,
			Bindings:  bindingsFrom(xr.Environments, xr.ExecutableInPath),
		})
	}
	return sel, nil
}

func bindingsFrom(envs []xmlEnvironment, execs []xmlExecInPath) []model.Binding {
	var out []model.Binding
	for _, e := range envs {
		kind := model.EnvironmentBinding
		if e.Name == "" {
			kind = model.InsertBinding
		}
		out = append(out, model.Binding{
			Kind:      kind,
			Name:      e.Name,
			Insert:    e.Insert,
			Mode:      e.Mode,
			Default:   e.Default,
			Separator: e.Separator,
		})
	}
	for _, e := range execs {
		out = append(out, model.Binding{Kind: model.ExecutableInPathBinding, Name: e.Name})
	}
	return out
}

func splitDigest(digest string) (algorithm, hexDigest string, ok bool) {
	idx := strings.IndexByte(digest, '=')
	if idx <= 0 || idx == len(digest)-1 {
		return "", "", false
	}
	return digest[:idx], digest[idx+1:], true
}

func attrKey(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + " " + name.Local
}

func splitAttrKey(key string) (namespace, local string) {
	if idx := strings.LastIndex(key, " "); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return "", key
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
