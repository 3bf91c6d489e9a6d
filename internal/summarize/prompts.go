package summarize

// summarizePromptTemplate is filled with sender name, sender email, subject,
// received date, content, and the interest list. The response contract is a
// single JSON object; the service may still wrap it in code fences or drift
// from the schema, so parsing stays defensive.
const summarizePromptTemplate = `You are a smart, well-read friend helping someone catch up on their newsletters. Your job is to extract the key information in a warm, conversational way — not like a news wire or corporate memo.

<newsletter>
From: %s <%s>
Subject: %s
Date: %s

%s
</newsletter>

<user_interests>
%s
</user_interests>

Analyze this newsletter and respond with a JSON object containing:

1. "context": 1-2 sentences of background that frame the news. Why does this matter? What's the bigger picture? Write as if explaining to a smart friend who may not follow this space closely. If a technical term or acronym is central to the story (e.g., "ARC-AGI-2", "Series B", "CHIPS Act"), briefly explain what it is in plain English inline.

2. "key_points": Array of 3-5 punchy takeaways. Each 1-2 sentences, conversational in tone, focused on the "so what" — why should the reader care? Avoid dry news-wire style. No bullet-point filler.

3. "entities": Array of {"name": str, "type": str} for notable people, companies, products, events. Type is one of: person, company, product, event, policy, other.

4. "topic_tags": Array of 2-4 short topic tags.

5. "notable_links": Array of {"url": str, "description": str} — only genuinely valuable "read more" links found in the newsletter content. Max 3. Skip generic homepage or unsubscribe links.

6. "importance_score": Integer 1-10 based on relevance to interests, timeliness, actionability, uniqueness.

7. "one_line_summary": Single conversational sentence capturing the main point — like what you'd say if someone asked "what was that newsletter about?"

Respond ONLY with valid JSON.`

// clusterPromptTemplate is filled with the summaries rendered as JSON.
const clusterPromptTemplate = `You are crafting a personalized news digest from multiple newsletter summaries. Your goal is a cohesive narrative — like a sharp colleague sharing highlights over coffee, not a list of disconnected bullet points.

<summaries>
%s
</summaries>

Respond with JSON containing:

1. "digest_intro": A 2-sentence intro for the entire digest. Be specific — name the big story or main trend of the day and preview what else is inside.

2. "clusters": Array of 4-5 themes maximum. When the same story appears in multiple newsletters, SYNTHESIZE it into ONE cluster — do not repeat it across multiple clusters. Each cluster:
   {
     "name": str (punchy, specific title — not "AI News" but "Anthropic Draws a Line on Safety"),
     "sources": [str],
     "synthesis": str (3-4 sentences, conversational narrative. If multiple sources covered it, acknowledge that. Explain any jargon in plain English. Focus on why it matters and what happens next.),
     "importance": int 1-10,
     "read_more_url": str or null (best "read original" URL from the source summaries' notable_links, if available; otherwise null),
     "cross_theme_note": str or null (1 sentence if this theme meaningfully connects to another cluster. Otherwise null.)
   }
   Order by importance descending.

3. "top_story": {
     "name": str,
     "why": str (4-5 sentences with real context and background. Why is this the top story? What led up to it? What are the stakes? What might happen next? Write it like the opening paragraph of a good magazine article — not a news brief.),
     "sources": [str]
   }
   The top_story should NOT appear again in the clusters list. The clusters should cover DIFFERENT stories from the top story. If there are only a few distinct stories, it's okay to have fewer clusters rather than repeating content.

4. "unique_finds": Array of {"source": str, "insight": str, "why_notable": str} — insights covered by exactly one source that deserve a spotlight. May be empty.

5. "contradictions": Array of {"topic": str, "positions": [{"source": str, "position": str}]} — genuinely different takes from different sources on the same topic. May be empty.

Respond ONLY with valid JSON.`
