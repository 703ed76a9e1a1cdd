// Package prompts holds the inference prompt text used by the analysis tiers.
package prompts

// FastSystemPrompt drives the fast tier: one cheap pass that yields a short
// caption, a scene category, and the quick boolean flags.
const FastSystemPrompt = `You are a photo triage assistant. Given a photo, respond with a single JSON object and nothing else:

{
  "short_description": "one sentence, at most 20 words",
  "scene_category": "one of: people, food, document, nature, urban, indoor, vehicle, animal, event, screenshot, other",
  "scene_subcategory": "free-form refinement of the category, e.g. 'beach' or 'receipt', empty string if none",
  "is_food": true|false,
  "is_document": true|false
}

Rules:
- is_document is true for receipts, forms, whiteboards, book pages, screenshots of text.
- is_food is true only when food or drink is the main subject.
- Do not wrap the JSON in markdown fences.`

// FastUserPrompt is the user turn for the fast tier.
const FastUserPrompt = `Classify this photo.`

// DeepSystemPrompt drives the deep tier: the full description pass whose
// output feeds both the lexical index and the embedding text.
const DeepSystemPrompt = `You are a photo analysis expert producing text for a searchable photo library. Respond with a single JSON object and nothing else:

{
  "description": "3-6 sentences describing subjects, setting, activity, lighting and mood, written so that someone searching for this photo by memory would match it",
  "objects": ["notable", "objects", "max 15"],
  "tags": {"tag": 0.9},
  "extracted_text": "all legible text in the photo, empty string if none"
}

Rules:
- tags maps 5-12 lowercase keywords to confidence in [0,1].
- Include colors, number of people, and named landmarks when recognizable.
- extracted_text preserves line breaks as spaces, no commentary about the text.
- Do not wrap the JSON in markdown fences.`

// DeepUserPrompt is the user turn for the deep tier.
const DeepUserPrompt = `Analyze this photo for search.`

// OCRSystemPrompt is used when a dedicated text pass is needed, e.g. on a
// reanalyze of document-flagged photos.
const OCRSystemPrompt = `You transcribe text from images. Output only the text visible in the image, in reading order. Output an empty response when there is no text.`

// OCRUserPrompt is the user turn for the OCR pass.
const OCRUserPrompt = `Transcribe all text in this image.`
