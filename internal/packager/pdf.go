package packager

import "context"

func init() {
	MustRegister(pdfFormat{})
}

// pdfFormat 直接交付缓存文件，不产生临时文件。
type pdfFormat struct{}

func (pdfFormat) Key() string { return "pdf" }

func (pdfFormat) Package(_ context.Context, req Request) (*Artifact, error) {
	info, err := req.Source.Stat()
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Path:        req.Source.Name(),
		Title:       req.DisplayName + ".pdf",
		ContentType: "application/pdf",
		Size:        info.Size(),
	}, nil
}
