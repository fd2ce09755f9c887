package providers

// SystemInstruction is sent with every generative extraction request. The
// document itself is always the user message.
const SystemInstruction = `You are a named entity recognition system. Identify the named entities in the given text and their types (for example PERSON, ORG, LOC, DATE).
Label every date or date-like expression with the type "DATE".
Respond only with a JSON array of objects, each containing exactly the keys "entity" and "type". Do not add any explanation.`
