package testsupport

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	mrImageStorage         = "1.2.840.10008.5.1.4.1.1.4"
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	fixtureInstanceUID     = "1.2.826.0.1.3680043.8.498.1"
)

// DICOMFields maps tags to their string values for fixture files.
type DICOMFields map[tag.Tag]string

// WriteDICOM writes a minimal explicit-VR little-endian DICOM file carrying
// the provided attributes and no pixel data.
func WriteDICOM(t testing.TB, path string, fields DICOMFields) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	all := DICOMFields{
		tag.SOPClassUID:    mrImageStorage,
		tag.SOPInstanceUID: fixtureInstanceUID,
	}
	for tg, value := range fields {
		all[tg] = value
	}
	elements := []*dicom.Element{
		mustElement(t, tag.MediaStorageSOPClassUID, []string{all[tag.SOPClassUID]}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{all[tag.SOPInstanceUID]}),
		mustElement(t, tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
	}
	for _, tg := range sortedTags(all) {
		elements = append(elements, mustElement(t, tg, []string{all[tg]}))
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if err := dicom.Write(f, dicom.Dataset{Elements: elements}); err != nil {
		t.Fatalf("write dicom %s: %v", path, err)
	}
}

func mustElement(t testing.TB, tg tag.Tag, value []string) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, value)
	if err != nil {
		t.Fatalf("new element %v: %v", tg, err)
	}
	return elem
}

// sortedTags orders tags ascending as DICOM requires for dataset elements.
func sortedTags(fields DICOMFields) []tag.Tag {
	tags := make([]tag.Tag, 0, len(fields))
	for tg := range fields {
		tags = append(tags, tg)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Group != tags[j].Group {
			return tags[i].Group < tags[j].Group
		}
		return tags[i].Element < tags[j].Element
	})
	return tags
}
