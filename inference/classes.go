package inference

import "fmt"

// VOCClasses are the Pascal VOC labels with background at index 0, the
// layout of SSD300/SSD512 trained on VOC.
var VOCClasses = []string{
	"background",
	"aeroplane", "bicycle", "bird", "boat", "bottle",
	"bus", "car", "cat", "chair", "cow",
	"diningtable", "dog", "horse", "motorbike", "person",
	"pottedplant", "sheep", "sofa", "train", "tvmonitor",
}

// COCOClasses are the 80 COCO labels with background at index 0.
var COCOClasses = []string{
	"background", "person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep",
	"cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase",
	"frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich",
	"orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave",
	"oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// Labels returns the class names registered under name ("voc" or "coco").
func Labels(name string) ([]string, error) {
	switch name {
	case "voc":
		return VOCClasses, nil
	case "coco":
		return COCOClasses, nil
	default:
		return nil, fmt.Errorf("unknown label set %q", name)
	}
}

// Label returns the name of class idx, or its number when out of range.
func Label(labels []string, idx int) string {
	if idx < 0 || idx >= len(labels) {
		return fmt.Sprintf("class %d", idx)
	}
	return labels[idx]
}
