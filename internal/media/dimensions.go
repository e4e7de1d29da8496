package media

import (
	"fmt"
	"image"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	mp4 "github.com/abema/go-mp4"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/hakosync/hakosync/internal/models"
)

// ExtractDimensions reads the pixel size of a downloaded media file.
// Extraction is type-dispatched; voice and unknown types have no
// dimensions and return the zero value without error.
func ExtractDimensions(path string, mediaType models.MessageType) (models.Dimensions, error) {
	switch mediaType {
	case models.MessagePicture:
		return imageDimensions(path)
	case models.MessageVideo:
		return videoDimensions(path)
	default:
		return models.Dimensions{}, nil
	}
}

func imageDimensions(path string) (models.Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Dimensions{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return models.Dimensions{}, fmt.Errorf("decode image config: %w", err)
	}
	return models.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// videoDimensions walks the mp4 box tree down to the first track header
// carrying a nonzero size. Width and height in tkhd are 16.16 fixed
// point.
func videoDimensions(path string) (models.Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Dimensions{}, err
	}
	defer f.Close()

	var dims models.Dimensions
	_, err = mp4.ReadBoxStructure(f, func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case mp4.BoxTypeMoov(), mp4.BoxTypeTrak():
			return h.Expand()
		case mp4.BoxTypeTkhd():
			if !dims.IsZero() {
				return nil, nil
			}
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tkhd, ok := box.(*mp4.Tkhd)
			if !ok {
				return nil, nil
			}
			w := int(tkhd.Width >> 16)
			ht := int(tkhd.Height >> 16)
			if w > 0 && ht > 0 {
				dims = models.Dimensions{Width: w, Height: ht}
			}
		}
		return nil, nil
	})
	if err != nil {
		return models.Dimensions{}, fmt.Errorf("probe mp4: %w", err)
	}
	return dims, nil
}
