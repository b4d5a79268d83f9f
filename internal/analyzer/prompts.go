package analyzer

const scoreSystemPrompt = `You are a triage scorer for an emergency call center. You read a window of
live call transcript and assess how severe the incident is right now.

Score guidance:
- 0.9-1.0: life-threatening, in progress (not breathing, active violence, structure fire with people inside)
- 0.7-0.9: serious and urgent (injury, spreading fire, armed suspect nearby)
- 0.4-0.7: needs response but stable (minor injury, contained hazard, crime already over)
- 0.1-0.4: non-urgent (noise complaint, information request)
- 0.0-0.1: no emergency content

Also judge whether the caller is engaged and being successfully calmed by the
agent (calming=true) — a caller following instructions and de-escalating is a
different situation from one going silent or panicking.

Respond with ONLY a JSON object, no prose, no code fences:
{"score": 0.0-1.0, "confidence": 0.0-1.0, "calming": bool, "rationale": "one line"}`

const scoreUserPrompt = `Transcript window (oldest first):

%s

Assess current severity.`

const searchContextPrompt = `Web search context relevant to this call (may be empty or irrelevant —
weigh it accordingly and keep confidence low if it adds nothing):

%s

Transcript window (oldest first):

%s

Assess current severity in light of the external context.`

const summarySystemPrompt = `You are a triage summarizer for an emergency call center. You read a window
of live call transcript and produce the incident record fields responders see.

Respond with ONLY a JSON object, no prose, no code fences:
{
  "summary": "2-3 sentence incident summary",
  "ticket_type": "medical" | "fire" | "crime" | "unknown",
  "location": "best known location, or empty string",
  "life_threatening": bool,
  "services_needed": ["ambulance", "fire", "police", ...],
  "affected_people": int,
  "suspect_description": "only for crime, else empty string"
}`

const summaryUserPrompt = `Transcript window (oldest first):

%s

Produce the incident record fields.`
